package booking

import (
	"time"

	"fieldops-dispatch/pkg/geo"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusRequested   Status = "requested"
	StatusBroadcasted Status = "broadcasted"
	StatusAccepted    Status = "accepted"
	StatusOnTheWay    Status = "on_the_way"
	StatusReached     Status = "reached"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "pending"
	SettlementEligible SettlementStatus = "eligible"
	SettlementSettled  SettlementStatus = "settled"
)

type LocationType string

const (
	LocationSaved LocationType = "saved"
	LocationGPS   LocationType = "gps"
)

// Address is the snapshot taken at booking time; it is never re-read from
// the customer's address book.
type Address struct {
	Name        string `gorm:"column:name" json:"name"`
	Phone       string `gorm:"column:phone" json:"phone"`
	AddressLine string `gorm:"column:address_line" json:"address_line"`
	City        string `gorm:"column:city" json:"city"`
	State       string `gorm:"column:state" json:"state"`
	Pincode     string `gorm:"column:pincode" json:"pincode"`
}

// Job is a customer booking. Amounts are in minor currency units and are
// snapshots supplied by the pricing and payment collaborators.
type Job struct {
	ID                   snowflake.ID     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Code                 string           `gorm:"column:code;uniqueIndex" json:"code"`
	CustomerID           snowflake.ID     `gorm:"column:customer_id;index" json:"customer_id"`
	ServiceID            snowflake.ID     `gorm:"column:service_id;index" json:"service_id"`
	BaseAmount           int64            `gorm:"column:base_amount" json:"base_amount"`
	CommissionPercentage float64          `gorm:"column:commission_percentage" json:"commission_percentage"`
	CommissionAmount     int64            `gorm:"column:commission_amount" json:"commission_amount"`
	TechnicianAmount     int64            `gorm:"column:technician_amount" json:"technician_amount"`
	PaidAmount           int64            `gorm:"column:paid_amount" json:"paid_amount"`
	PaymentRef           string           `gorm:"column:payment_ref" json:"payment_ref,omitempty"`
	Latitude             float64          `gorm:"column:latitude" json:"latitude"`
	Longitude            float64          `gorm:"column:longitude" json:"longitude"`
	HasLocation          bool             `gorm:"column:has_location" json:"has_location"`
	LocationType         LocationType     `gorm:"column:location_type;type:varchar(10)" json:"location_type"`
	Address              Address          `gorm:"embedded;embeddedPrefix:address_" json:"address"`
	SearchRadiusMeters   float64          `gorm:"column:search_radius_meters" json:"search_radius_meters"`
	FaultProblem         string           `gorm:"column:fault_problem" json:"fault_problem,omitempty"`
	Status               Status           `gorm:"column:status;type:varchar(20);index" json:"status"`
	PaymentStatus        PaymentStatus    `gorm:"column:payment_status;type:varchar(20)" json:"payment_status"`
	SettlementStatus     SettlementStatus `gorm:"column:settlement_status;type:varchar(20)" json:"settlement_status"`
	TechnicianID         *snowflake.ID    `gorm:"column:technician_id;index" json:"technician_id,omitempty"`
	BeforeImage          string           `gorm:"column:before_image" json:"before_image,omitempty"`
	AfterImage           string           `gorm:"column:after_image" json:"after_image,omitempty"`
	ScheduledAt          *time.Time       `gorm:"column:scheduled_at" json:"scheduled_at,omitempty"`
	BroadcastedAt        *time.Time       `gorm:"column:broadcasted_at" json:"broadcasted_at,omitempty"`
	AssignedAt           *time.Time       `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	CompletedAt          *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CancelledAt          *time.Time       `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	SettledAt            *time.Time       `gorm:"column:settled_at" json:"settled_at,omitempty"`
	CreatedAt            time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

func (j *Job) Point() (geo.Point, bool) {
	if j == nil || !j.HasLocation {
		return geo.Point{}, false
	}
	return geo.Point{Lat: j.Latitude, Lng: j.Longitude}, true
}

// AssignedTo reports whether technicianID holds the job.
func (j *Job) AssignedTo(technicianID snowflake.ID) bool {
	return j.TechnicianID != nil && *j.TechnicianID == technicianID
}
