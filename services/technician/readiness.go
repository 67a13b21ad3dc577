package technician

// State names where a technician stands on the way to receiving work.
// Evaluation stops at the first unmet requirement, in declaration order.
type State string

const (
	StateNotFound          State = "not_found"
	StateIncompleteProfile State = "incomplete_profile"
	StateAwaitingKYC       State = "awaiting_kyc"
	StateAwaitingBank      State = "awaiting_bank_verification"
	StateAwaitingTraining  State = "awaiting_training"
	StateNotApproved       State = "not_approved"
	StateOffline           State = "offline"
	StateReady             State = "ready"
)

const (
	ReasonNotFound              = "technician_not_found"
	ReasonProfileIncomplete     = "profile_incomplete"
	ReasonKYCNotApproved        = "kyc_not_approved"
	ReasonBankNotVerified       = "bank_not_verified"
	ReasonTrainingIncomplete    = "training_incomplete"
	ReasonWorkStatusNotApproved = "workStatus_not_approved"
	ReasonOffline               = "offline"
)

// Readiness is the composite eligibility of a technician.
type Readiness struct {
	State      State      `json:"state"`
	Eligible   bool       `json:"eligible"`
	Reasons    []string   `json:"reasons"`
	KYCStatus  KYCStatus  `json:"kyc_status"`
	WorkStatus WorkStatus `json:"work_status,omitempty"`
	IsOnline   bool       `json:"is_online"`
}

type requirement struct {
	state  State
	reason string
	met    func(p *Profile, k *KYC) bool
}

var requirements = []requirement{
	{StateIncompleteProfile, ReasonProfileIncomplete, func(p *Profile, _ *KYC) bool { return p.ProfileComplete }},
	{StateAwaitingKYC, ReasonKYCNotApproved, func(_ *Profile, k *KYC) bool { return k != nil && k.VerificationStatus == KYCApproved }},
	{StateAwaitingBank, ReasonBankNotVerified, func(_ *Profile, k *KYC) bool { return k != nil && k.BankVerified }},
	{StateAwaitingTraining, ReasonTrainingIncomplete, func(p *Profile, _ *KYC) bool { return p.TrainingCompleted }},
	{StateNotApproved, ReasonWorkStatusNotApproved, func(p *Profile, _ *KYC) bool { return p.WorkStatus == WorkStatusApproved }},
	{StateOffline, ReasonOffline, func(p *Profile, _ *KYC) bool { return p.IsOnline }},
}

// Evaluate computes readiness from the profile and KYC rows. Either may be nil.
func Evaluate(p *Profile, k *KYC) Readiness {
	if p == nil {
		return Readiness{
			State:     StateNotFound,
			Reasons:   []string{ReasonNotFound},
			KYCStatus: KYCNotSubmitted,
		}
	}

	r := Readiness{
		State:      StateReady,
		Reasons:    []string{},
		KYCStatus:  KYCNotSubmitted,
		WorkStatus: p.WorkStatus,
		IsOnline:   p.IsOnline,
	}
	if k != nil && k.VerificationStatus != "" {
		r.KYCStatus = k.VerificationStatus
	}

	for _, req := range requirements {
		if req.met(p, k) {
			continue
		}
		if r.State == StateReady {
			r.State = req.state
		}
		r.Reasons = append(r.Reasons, req.reason)
	}

	r.Eligible = len(r.Reasons) == 0
	return r
}

// CanWork reports whether every requirement except being online holds. Job
// progress updates are allowed while offline.
func (r Readiness) CanWork() bool {
	return r.onlyMissing(ReasonOffline)
}

// Activated reports whether KYC, bank verification and training are done.
func (r Readiness) Activated() bool {
	return r.onlyMissing(ReasonOffline, ReasonWorkStatusNotApproved, ReasonProfileIncomplete)
}

func (r Readiness) onlyMissing(allowed ...string) bool {
	if r.State == StateNotFound {
		return false
	}
	for _, reason := range r.Reasons {
		ok := false
		for _, a := range allowed {
			if reason == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
