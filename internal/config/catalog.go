package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Option is one selectable row in a menu table.
type Option struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Catalog holds the option tables shown by the flows.
type Catalog struct {
	Billers       []Option `yaml:"billers"`
	Merchants     []Option `yaml:"merchants"`
	Insurance     []Option `yaml:"insurance"`
	SavingsAction []Option `yaml:"savings_actions"`
	LoanActions   []Option `yaml:"loan_actions"`
}

// DefaultCatalog returns the built-in option tables.
func DefaultCatalog() Catalog {
	return Catalog{
		Billers: []Option{
			{ID: "ELECTRICITY", Title: "Electricity", Description: "Prepaid electricity"},
			{ID: "WATER", Title: "Water", Description: "Municipal water"},
			{ID: "MULTICHOICE", Title: "DStv / GOtv", Description: "MultiChoice subscription"},
			{ID: "OLUSHENO", Title: "Olusheno", Description: "Olusheno bill"},
			{ID: "NAMWATER", Title: "NamWater", Description: "NamWater account"},
			{ID: "COW", Title: "City of Windhoek", Description: "Rates and taxes"},
		},
		Merchants: []Option{
			{ID: "SHOPRITE", Title: "Shoprite", Description: "Retail"},
			{ID: "PICKNPAY", Title: "Pick n Pay", Description: "Retail"},
			{ID: "OTHER_MERCHANT", Title: "Other merchant", Description: "Pay by merchant code"},
		},
		Insurance: []Option{
			{ID: "LIFE_COVER", Title: "Life Cover", Description: "Funeral and life cover from NAD 15/month"},
			{ID: "HEALTH", Title: "Health", Description: "Hospital cash plan from NAD 50/month"},
			{ID: "LEGAL", Title: "Legal", Description: "Legal assistance from NAD 30/month"},
		},
		SavingsAction: []Option{
			{ID: "DEPOSIT", Title: "Deposit"},
			{ID: "WITHDRAW", Title: "Withdraw"},
			{ID: "HISTORY", Title: "History"},
		},
		LoanActions: []Option{
			{ID: "APPLY", Title: "Apply for loan"},
			{ID: "CHECK_ELIGIBILITY", Title: "Check eligibility"},
			{ID: "LOAN_HISTORY", Title: "Loan history"},
		},
	}
}

// LoadCatalog parses a YAML catalog file. Tables missing from the file keep
// their defaults. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	var file Catalog
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	if len(file.Billers) > 0 {
		cat.Billers = file.Billers
	}
	if len(file.Merchants) > 0 {
		cat.Merchants = file.Merchants
	}
	if len(file.Insurance) > 0 {
		cat.Insurance = file.Insurance
	}
	if len(file.SavingsAction) > 0 {
		cat.SavingsAction = file.SavingsAction
	}
	if len(file.LoanActions) > 0 {
		cat.LoanActions = file.LoanActions
	}

	for _, table := range [][]Option{cat.Billers, cat.Merchants, cat.Insurance, cat.SavingsAction, cat.LoanActions} {
		for _, opt := range table {
			if opt.ID == "" || opt.Title == "" {
				return Catalog{}, fmt.Errorf("catalog %s: option with empty id or title", path)
			}
		}
	}
	return cat, nil
}

// Find returns the option whose id matches, or whose 1-based position equals input.
func Find(options []Option, input string) (Option, bool) {
	for _, opt := range options {
		if opt.ID == input {
			return opt, true
		}
	}
	for i, opt := range options {
		if input == fmt.Sprint(i+1) {
			return opt, true
		}
	}
	return Option{}, false
}
