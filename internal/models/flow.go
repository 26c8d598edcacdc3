package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NodeText    = "text"
	NodeButtons = "buttons"
	NodeList    = "list"
)

// BotFlow is a named conversation graph. Nodes reference each other by
// NodeKey; the literal key "END" terminates the flow.
type BotFlow struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"type:varchar(255);not null" json:"name"`
	WabaAccountID uint   `gorm:"index" json:"wabaAccountId"`
	StartNodeKey  string `gorm:"type:varchar(255)" json:"startNodeKey"`

	CompletionFollowUpEnabled    bool   `json:"completionFollowUpEnabled"`
	CompletionFollowUpDelay      int    `gorm:"default:60" json:"completionFollowUpDelay"`
	CompletionFollowUpMessage    string `gorm:"type:text" json:"completionFollowUpMessage"`
	CompletionFollowUpYesNodeKey string `gorm:"type:varchar(255)" json:"completionFollowUpYesNodeKey"`
	CompletionFollowUpNoNodeKey  string `gorm:"type:varchar(255)" json:"completionFollowUpNoNodeKey"`

	Nodes     []BotNode `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE;" json:"nodes,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (BotFlow) TableName() string {
	return "bot_flows"
}

type NodeButton struct {
	Title       string `json:"title"`
	NextNodeKey string `json:"nextNodeKey"`
}

type ListRow struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	NextNodeKey string `json:"nextNodeKey"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type BotNode struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	FlowID      uint   `gorm:"not null;uniqueIndex:idx_bot_nodes_flow_key" json:"flowId"`
	NodeKey     string `gorm:"type:varchar(255);not null;uniqueIndex:idx_bot_nodes_flow_key" json:"nodeKey"`
	MessageType string `gorm:"type:varchar(20);not null" json:"messageType"`
	MessageText string `gorm:"type:text" json:"messageText"`

	SaveToField string `gorm:"type:varchar(100)" json:"saveToField,omitempty"`
	NextNodeKey string `gorm:"type:varchar(255)" json:"nextNodeKey,omitempty"`

	Buttons        datatypes.JSONType[[]NodeButton]  `json:"buttons"`
	ListButtonText string                            `gorm:"type:varchar(20)" json:"listButtonText,omitempty"`
	ListSections   datatypes.JSONType[[]ListSection] `json:"listSections"`

	FollowUpEnabled bool   `json:"followUpEnabled"`
	FollowUpDelay   int    `gorm:"default:15" json:"followUpDelay"`
	FollowUpMessage string `gorm:"type:text" json:"followUpMessage,omitempty"`
}

func (BotNode) TableName() string {
	return "bot_nodes"
}

// OptionKeys lists the next keys a buttons or list node offers, in display order.
func (n *BotNode) OptionKeys() []string {
	var keys []string
	switch n.MessageType {
	case NodeButtons:
		for _, b := range n.Buttons.Data() {
			keys = append(keys, b.NextNodeKey)
		}
	case NodeList:
		for _, s := range n.ListSections.Data() {
			for _, r := range s.Rows {
				keys = append(keys, r.NextNodeKey)
			}
		}
	}
	return keys
}

// NextKeys lists every transition target the node can produce.
func (n *BotNode) NextKeys() []string {
	if n.MessageType == NodeButtons || n.MessageType == NodeList {
		return n.OptionKeys()
	}
	if n.NextNodeKey == "" {
		return nil
	}
	return []string{n.NextNodeKey}
}

// HasOption reports whether id is one of the node's offered options.
func (n *BotNode) HasOption(id string) bool {
	for _, k := range n.OptionKeys() {
		if k == id {
			return true
		}
	}
	return false
}
