package ledger

// All is a test helper that returns every transaction held by the in-memory ledger.
func All(l Ledger) []Transaction {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return nil
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	out := make([]Transaction, 0, len(mem.transactions))
	for _, tx := range mem.transactions {
		out = append(out, tx)
	}
	return out
}
