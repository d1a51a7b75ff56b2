package query

// JournalEntry is one event_log.journal row touching an address.
type JournalEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy bool  `json:"is_healthy"`
	Events    int64 `json:"events"`
	// Sequences whose prev_hash does not match the preceding state_hash.
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Sequences missing from an otherwise contiguous log.
	SequenceGaps []int64 `json:"sequence_gaps,omitempty"`
	// Events that carry no journal entry.
	UnjournaledEvents []int64 `json:"unjournaled_events,omitempty"`
	// Record slots with no PortfolioInitialized event, base58.
	OrphanRecords []string `json:"orphan_records,omitempty"`
}
