package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message status values. Incoming messages are "received"; outgoing ones move
// through sent, delivered and read, or end in failed.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Tags mark system-generated outgoing messages.
const (
	TagBot            = "bot"
	TagStuckPrompt    = "stuck_prompt"
	TagTimeoutClose   = "timeout_close"
	TagReviewRequest  = "review_request"
	TagAutoReply      = "auto_reply"
	TagLeadNotice     = "lead_notice"
	TagSystemResponse = "system"
)

// Message is a normalized inbound or outbound WhatsApp message.
// From is always the customer's phone so both directions group into one thread.
type Message struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	MessageID   string `gorm:"type:varchar(255);not null;uniqueIndex" json:"messageId"`
	From        string `gorm:"column:from_phone;type:varchar(50);not null;index:idx_messages_thread" json:"from"`
	RecipientID string `gorm:"type:varchar(100);index:idx_messages_thread" json:"recipientId"`
	Direction   string `gorm:"type:varchar(10);not null" json:"direction"`
	Type        string `gorm:"type:varchar(20)" json:"type"`
	Body        string `gorm:"type:text" json:"body"`

	Timestamp time.Time `gorm:"column:occurred_at;index" json:"timestamp"`

	MediaID       string `gorm:"type:varchar(255)" json:"mediaId,omitempty"`
	MediaType     string `gorm:"type:varchar(100)" json:"mediaType,omitempty"`
	MediaURL      string `gorm:"type:text" json:"mediaUrl,omitempty"`
	MediaFilename string `gorm:"type:varchar(255)" json:"mediaFilename,omitempty"`

	Interactive datatypes.JSONType[Interactive] `json:"interactive"`

	ContextID         string `gorm:"type:varchar(255)" json:"contextId,omitempty"`
	ContextFrom       string `gorm:"type:varchar(50)" json:"contextFrom,omitempty"`
	ReactionEmoji     string `gorm:"type:varchar(32)" json:"reactionEmoji,omitempty"`
	ReactionMessageID string `gorm:"type:varchar(255)" json:"reactionMessageId,omitempty"`

	CampaignID    *uint  `gorm:"index" json:"campaignId,omitempty"`
	Status        string `gorm:"type:varchar(20)" json:"status"`
	FailureReason string `gorm:"type:text" json:"failureReason,omitempty"`
	Tag           string `gorm:"type:varchar(32)" json:"tag,omitempty"`
	Read          bool   `json:"read"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// IsInteractive reports whether the message carried buttons or a list.
func (m *Message) IsInteractive() bool {
	return m.Interactive.Data().Type != ""
}

// Interactive kinds.
const (
	KindButtons = "button"
	KindList    = "list"
)

// Interactive is the buttons or list actually sent, kept so it can be replayed.
type Interactive struct {
	Type        string               `json:"type,omitempty"`
	Body        string               `json:"body,omitempty"`
	Buttons     []InteractiveButton  `json:"buttons,omitempty"`
	ButtonLabel string               `json:"button,omitempty"`
	Sections    []InteractiveSection `json:"sections,omitempty"`
}

type InteractiveButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type InteractiveSection struct {
	Title string           `json:"title,omitempty"`
	Rows  []InteractiveRow `json:"rows"`
}

type InteractiveRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// WabaAccount holds the access token used for every number of the account.
type WabaAccount struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255)" json:"name"`
	WabaID      string    `gorm:"type:varchar(100);uniqueIndex" json:"wabaId"`
	AccessToken string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (WabaAccount) TableName() string {
	return "waba_accounts"
}

// PhoneNumber is a business number; PhoneNumberID is the provider's
// phone_number_id that webhooks carry as the recipient.
type PhoneNumber struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	PhoneNumberName   string      `gorm:"type:varchar(255)" json:"phoneNumberName"`
	PhoneNumberID     string      `gorm:"type:varchar(100);not null;uniqueIndex" json:"phoneNumberId"`
	WabaAccountID     uint        `gorm:"index" json:"wabaAccountId"`
	WabaAccount       WabaAccount `json:"-"`
	ActiveBotFlowID   *uint       `json:"activeBotFlowId"`
	IsFollowUpEnabled bool        `json:"isFollowUpEnabled"`
	IsReviewEnabled   bool        `json:"isReviewEnabled"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

// Contact is owned by contact-list management; the core only flips
// subscription state on opt-out and opt-in.
type Contact struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	PhoneNumber           string     `gorm:"type:varchar(50);not null;index" json:"phoneNumber"`
	Name                  string     `gorm:"type:varchar(255)" json:"name"`
	ContactListID         *uint      `gorm:"index" json:"contactListId"`
	PreviousContactListID *uint      `json:"previousContactListId"`
	IsSubscribed          bool       `json:"isSubscribed"`
	UnsubscribeReason     string     `gorm:"type:varchar(255)" json:"unsubscribeReason"`
	UnsubscribeDate       *time.Time `json:"unsubscribeDate"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Contact) TableName() string {
	return "contacts"
}

type ContactList struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ContactList) TableName() string {
	return "contact_lists"
}

type Campaign struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	TemplateName  string    `gorm:"type:varchar(255)" json:"templateName"`
	WabaAccountID uint      `gorm:"index" json:"wabaAccountId"`
	Status        string    `gorm:"type:varchar(20)" json:"status"`
	ReplyCount    int       `json:"replyCount"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// CampaignSend is one template message sent by the campaign sender loop.
type CampaignSend struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MessageID     string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"wamid"`
	CampaignID    uint      `gorm:"index" json:"campaignId"`
	Campaign      Campaign  `json:"-"`
	ContactPhone  string    `gorm:"type:varchar(50);index:idx_campaign_sends_recency" json:"contactPhone"`
	Status        string    `gorm:"type:varchar(20)" json:"status"`
	FailureReason string    `gorm:"type:text" json:"failureReason,omitempty"`
	SentAt        time.Time `gorm:"index:idx_campaign_sends_recency" json:"sentAt"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (CampaignSend) TableName() string {
	return "campaign_sends"
}

const (
	LogInfo    = "info"
	LogError   = "error"
	LogSuccess = "success"
)

// Log is an operator-visible event.
type Log struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Level      string    `gorm:"type:varchar(10);not null" json:"level"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	CampaignID *uint     `gorm:"index" json:"campaignId,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Log) TableName() string {
	return "logs"
}
