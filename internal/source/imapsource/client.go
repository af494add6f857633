package imapsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/automail/automail/internal/source"
)

// imapConn wraps go-imap v2 for connecting to and querying IMAP servers.
type imapConn struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// connect establishes a connection to the IMAP server and authenticates.
// The caller is responsible for calling Logout on the returned client.
// Network failures are transient; authentication failures are fatal.
func (c *imapConn) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &source.TransientError{
			Op:  "connect",
			Err: fmt.Errorf("dialing IMAP %s: %w", addr, err),
		}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.FatalError{
			Op:  "login",
			Err: fmt.Errorf("authentication failed for %s: %w", c.username, err),
		}
	}

	return client, nil
}

// selectFolder selects the target folder. A failure here is fatal for
// the mailbox: a missing folder will not appear by retrying.
func selectFolder(client *imapclient.Client, folder string) error {
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return &source.FatalError{
			Op:  "select",
			Err: fmt.Errorf("selecting folder %q: %w", folder, err),
		}
	}
	return nil
}

// fetchFull retrieves and parses the complete messages for the given
// UIDs, in UID order. A message whose response cannot be collected is
// skipped with a warning; once the checkpoint moves past it, it will
// not come back, so the skip must at least be visible.
func fetchFull(
	client *imapclient.Client,
	uids []imap.UID,
	logger *zap.Logger,
) ([]*parsedMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var parsed []*parsedMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			logger.Warn("skipping message that failed to collect",
				zap.Error(err))
			continue
		}

		p := &parsedMessage{Envelope: envelopeFromBuffer(buf)}
		if rawBody := buf.FindBodySection(bodySection); rawBody != nil {
			p.TextBody, p.HTMLBody, p.Attachments = parseMIMEBody(rawBody)
		}
		parsed = append(parsed, p)
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, &source.TransientError{
			Op:  "fetch",
			Err: fmt.Errorf("fetching messages: %w", err),
		}
	}

	return parsed, nil
}

// envelopeFromBuffer extracts an envelope from a FetchMessageBuffer.
// The message date is the server's INTERNALDATE (arrival time), not the
// sender-declared Date header: arrival time grows with UID order, while
// header dates follow the sender's clock and can jump backwards, which
// would let a delayed message slip behind the checkpoint unseen.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) envelope {
	env := envelope{
		UID:  uint32(buf.UID),
		Date: buf.InternalDate,
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		if env.Date.IsZero() {
			env.Date = buf.Envelope.Date
		}

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				env.From = from.Addr()
			}
		}
	}

	return env
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message
// and extracts the text/plain body, text/html body, and attachments
// with their decoded content.
func parseMIMEBody(raw []byte) (
	textBody string, htmlBody string, attachments []attachmentPart,
) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, attachmentPart{
				Filename: filename,
				MIMEType: contentType,
				Content:  body,
			})
		}
	}

	return textBody, htmlBody, attachments
}

// tagPattern matches HTML tags for stripping; see stripHTML.
var tagPattern = regexp.MustCompile(`<[^>]*>`)

var htmlReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering for messages with
// no text/plain part.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = tagPattern.ReplaceAllString(result, "")
	result = htmlReplacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
