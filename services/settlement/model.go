package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

type Source string

const (
	SourceJob        Source = "job"
	SourceWithdrawal Source = "withdrawal"
	SourceAdjustment Source = "adjustment"
	SourcePenalty    Source = "penalty"
	SourceBonus      Source = "bonus"
)

const genesisHash = "GENESIS"

// LedgerEntry is one wallet movement. (job_id, type, source) is unique, so a
// job can be credited once; entries without a job are not constrained.
// Entries of a technician form a hash chain starting at GENESIS; each hash
// can be the predecessor of only one entry, so the chain cannot fork.
type LedgerEntry struct {
	ID            snowflake.ID   `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TechnicianID  snowflake.ID   `gorm:"column:technician_id;uniqueIndex:idx_wallet_ledger_chain,priority:1" json:"technician_id"`
	JobID         *snowflake.ID  `gorm:"column:job_id;uniqueIndex:idx_wallet_ledger_settlement,priority:1" json:"job_id,omitempty"`
	Type          EntryType      `gorm:"column:type;type:varchar(10);uniqueIndex:idx_wallet_ledger_settlement,priority:2" json:"type"`
	Source        Source         `gorm:"column:source;type:varchar(20);uniqueIndex:idx_wallet_ledger_settlement,priority:3" json:"source"`
	Amount        int64          `gorm:"column:amount" json:"amount"`
	PaymentRef    string         `gorm:"column:payment_ref" json:"payment_ref,omitempty"`
	TransactionID string         `gorm:"column:transaction_id" json:"transaction_id"`
	Note          string         `gorm:"column:note" json:"note,omitempty"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash  string         `gorm:"column:previous_hash;type:varchar(64);uniqueIndex:idx_wallet_ledger_chain,priority:2" json:"previous_hash"`
	Hash          string         `gorm:"column:hash;type:varchar(64)" json:"hash"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "wallet_ledger_entries" }

// Signed returns the amount with debits negated.
func (e *LedgerEntry) Signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

func (e *LedgerEntry) HashFields() map[string]string {
	job := ""
	if e.JobID != nil {
		job = e.JobID.String()
	}
	return map[string]string{
		"id":             e.ID.String(),
		"technician_id":  e.TechnicianID.String(),
		"job_id":         job,
		"type":           string(e.Type),
		"source":         string(e.Source),
		"amount":         fmt.Sprintf("%d", e.Amount),
		"payment_ref":    e.PaymentRef,
		"transaction_id": e.TransactionID,
		"note":           e.Note,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Reason explains a settlement outcome.
type Reason string

const (
	ReasonAlreadySettled          Reason = "already_settled"
	ReasonNotEligible             Reason = "not_eligible"
	ReasonInvalidTechnicianAmount Reason = "invalid_technician_amount"
	ReasonSettledTransactional    Reason = "settled_transactional"
	ReasonSettledSequential       Reason = "settled_non_transactional"
	ReasonAlreadyCredited         Reason = "already_credited"
)

type Result struct {
	JobID   snowflake.ID  `json:"job_id"`
	Settled bool          `json:"settled"`
	Reason  Reason        `json:"reason"`
	Amount  int64         `json:"amount,omitempty"`
	EntryID *snowflake.ID `json:"entry_id,omitempty"`
}

type Wallet struct {
	TechnicianID       snowflake.ID `json:"technician_id"`
	Balance            int64        `json:"balance"`
	TotalJobsCompleted int64        `json:"total_jobs_completed"`
	Entries            int64        `json:"entries"`
}

type ChainReport struct {
	TechnicianID snowflake.ID  `json:"technician_id"`
	Valid        bool          `json:"valid"`
	Entries      int           `json:"entries"`
	BrokenAt     *snowflake.ID `json:"broken_at,omitempty"`
}

// Reconciliation compares the stored balance with the ledger sum. Drift is
// reported, never corrected here.
type Reconciliation struct {
	TechnicianID  snowflake.ID `json:"technician_id"`
	WalletBalance int64        `json:"wallet_balance"`
	LedgerBalance int64        `json:"ledger_balance"`
	Drift         int64        `json:"drift"`
	Consistent    bool         `json:"consistent"`
}

func Models() []any {
	return []any{&LedgerEntry{}}
}
