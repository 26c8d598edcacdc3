package models

import (
	"time"

	"gorm.io/datatypes"
)

// StateEnd is the terminal conversation state and the key of the closing node.
const StateEnd = "END"

const (
	EnquiryOpen     = "open"
	EnquiryHandover = "handover"
	EnquiryClosed   = "closed"
)

const (
	ReviewPending  = "PENDING"
	ReviewReceived = "RECEIVED"
)

const (
	LangEnglish = "en"
	LangArabic  = "ar"
)

// Enquiry is the bot conversation state for one (customer, business number) pair.
// CreatedAt and UpdatedAt are written by the caller's clock, never by gorm, so
// the time-based follow-up rules can be driven deterministically.
type Enquiry struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Phone             string `gorm:"type:varchar(50);not null;index:idx_enquiries_pair" json:"phoneNumber"`
	RecipientID       string `gorm:"type:varchar(100);not null;index:idx_enquiries_pair" json:"recipientId"`
	BotFlowID         *uint  `json:"botFlowId,omitempty"`
	ConversationState string `gorm:"type:varchar(255);index" json:"conversationState"`

	Name        string                                `gorm:"type:varchar(255)" json:"name"`
	Email       string                                `gorm:"type:varchar(255)" json:"email"`
	Budget      string                                `gorm:"type:varchar(255)" json:"budget"`
	Bedrooms    string                                `gorm:"type:varchar(255)" json:"bedrooms"`
	ProjectName string                                `gorm:"type:varchar(255)" json:"projectName"`
	PageURL     string                                `gorm:"type:text" json:"pageUrl"`
	Fields      datatypes.JSONType[map[string]string] `json:"fields"`

	EntrySource    string `gorm:"type:varchar(255)" json:"entrySource"`
	HandoverReason string `gorm:"type:varchar(255)" json:"handoverReason"`
	Language       string `gorm:"type:varchar(5);default:'en'" json:"language"`
	Status         string `gorm:"type:varchar(20);default:'open';index" json:"status"`
	ReviewStatus   string `gorm:"type:varchar(20)" json:"reviewStatus"`
	ReviewRating   int    `json:"reviewRating"`

	EndMessageSent          bool `json:"endMessageSent"`
	NodeFollowUpSent        bool `json:"nodeFollowUpSent"`
	CompletionFollowUpSent  bool `json:"completionFollowUpSent"`
	SkipName                bool `json:"skipName"`
	SkipEmail               bool `json:"skipEmail"`
	NeedsImmediateAttention bool `json:"needsImmediateAttention"`
	AgentContacted          bool `json:"agentContacted"`

	CreatedAt               time.Time  `gorm:"autoCreateTime:false" json:"createdAt"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime:false;index" json:"updatedAt"`
	EndedAt                 *time.Time `json:"endedAt,omitempty"`
	LastNodeSentAt          *time.Time `json:"lastNodeSentAt,omitempty"`
	LastStuckFollowUpSentAt *time.Time `json:"lastStuckFollowUpSentAt,omitempty"`
}

func (Enquiry) TableName() string {
	return "enquiries"
}

func (e *Enquiry) IsEnded() bool {
	return e.ConversationState == StateEnd
}

func (e *Enquiry) Lang() string {
	if e == nil || e.Language == "" {
		return LangEnglish
	}
	return e.Language
}

// Field returns a collected answer by field name.
func (e *Enquiry) Field(name string) string {
	switch name {
	case "name":
		return e.Name
	case "email":
		return e.Email
	case "budget":
		return e.Budget
	case "bedrooms":
		return e.Bedrooms
	case "projectName":
		return e.ProjectName
	case "pageUrl":
		return e.PageURL
	}
	return e.Fields.Data()[name]
}

// SetField stores an answer. Unknown names go to the extensible Fields map.
func (e *Enquiry) SetField(name, value string) {
	switch name {
	case "name":
		e.Name = value
	case "email":
		e.Email = value
	case "budget":
		e.Budget = value
	case "bedrooms":
		e.Bedrooms = value
	case "projectName":
		e.ProjectName = value
	case "pageUrl":
		e.PageURL = value
	default:
		fields := make(map[string]string, len(e.Fields.Data())+1)
		for k, v := range e.Fields.Data() {
			fields[k] = v
		}
		fields[name] = value
		e.Fields = datatypes.NewJSONType(fields)
	}
}
