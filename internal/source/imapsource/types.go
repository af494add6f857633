package imapsource

import "time"

// envelope holds the parsed envelope data from an IMAP message. Date is
// the server arrival time (INTERNALDATE), with the header date as a
// fallback for servers that omit it.
type envelope struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	UID       uint32
}

// attachmentPart is one decoded attachment from a MIME body.
type attachmentPart struct {
	Filename string
	MIMEType string
	Content  []byte
}

// parsedMessage holds the full parsed content of an email message.
type parsedMessage struct {
	Envelope    envelope
	TextBody    string
	HTMLBody    string
	Attachments []attachmentPart
}
