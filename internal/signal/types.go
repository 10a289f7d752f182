// Package signal integrates with a signal-cli-rest-api instance:
// inbound messages stream over its receive websocket, outbound
// messages go through its REST send endpoint.
package signal

// receiveFrame is one websocket frame pushed by the receive endpoint.
type receiveFrame struct {
	Envelope Envelope `json:"envelope"`
	Account  string   `json:"account"`
}

// Envelope is the top-level structure of one received event. Only the
// message types the bridge acts on are modeled.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceName   string `json:"sourceName"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage *DataMessage `json:"dataMessage,omitempty"`
}

// DataMessage is a normal text or media message.
type DataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

// Attachment describes a file attached to a data message.
type Attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename,omitempty"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// sendRequest is the body for the v2 send endpoint.
type sendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// sendResponse is the body returned by a successful send.
type sendResponse struct {
	Timestamp int64 `json:"timestamp,string"`
}

// receiptRequest is the body for the read-receipt endpoint.
type receiptRequest struct {
	ReceiptType string `json:"receipt_type"`
	Recipient   string `json:"recipient"`
	Timestamp   int64  `json:"timestamp"`
}
