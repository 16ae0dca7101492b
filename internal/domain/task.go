package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// TaskKind discriminates the task payloads.
type TaskKind string

const (
	TaskTest              TaskKind = "Test"
	TaskSendEmail         TaskKind = "SendEmail"
	TaskSendSms           TaskKind = "SendSms"
	TaskDiscordReminder   TaskKind = "DiscordReminder"
	TaskForceRefreshToken TaskKind = "ForceRefreshToken"
)

// TaskKinds lists every supported task kind.
var TaskKinds = []TaskKind{
	TaskTest,
	TaskSendEmail,
	TaskSendSms,
	TaskDiscordReminder,
	TaskForceRefreshToken,
}

// ParseTaskKind matches s case-insensitively against the known kinds.
func ParseTaskKind(s string) (TaskKind, error) {
	for _, k := range TaskKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTaskKind, s)
}

func (k *TaskKind) UnmarshalText(b []byte) error {
	v, err := ParseTaskKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// TestTask logs a debug message. Used to exercise the pipeline.
type TestTask struct {
	DebugMessage string `json:"debugMessage"`
}

// SendEmailTask sends an email from the configured account.
type SendEmailTask struct {
	Sender             string            `json:"sender,omitempty"`
	ToRecipients       []string          `json:"toRecipients"`
	CCRecipients       []string          `json:"ccRecipients,omitempty"`
	BccRecipients      []string          `json:"bccRecipients,omitempty"`
	Subject            string            `json:"subject"`
	Message            string            `json:"message,omitempty"`
	TemplateFilePath   string            `json:"templateFilePath,omitempty"`
	TemplateParameters map[string]string `json:"templateParameters,omitempty"`
	HighImportance     bool              `json:"highImportance,omitempty"`
	IsHTML             bool              `json:"isHtml,omitempty"`
}

// SendSmsTask sends a text message to a North American number.
type SendSmsTask struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// DiscordRecipient addresses a channel in a guild.
type DiscordRecipient struct {
	GuildID   *int64 `json:"guildId"`
	ChannelID *int64 `json:"channelId"`
}

// DiscordReminderTask posts a message to a Discord channel.
type DiscordReminderTask struct {
	Recipient          *DiscordRecipient `json:"recipient,omitempty"`
	RecipientName      string            `json:"recipientName,omitempty"`
	Message            string            `json:"message,omitempty"`
	TemplateFilePath   string            `json:"templateFilePath,omitempty"`
	TemplateParameters map[string]string `json:"templateParameters,omitempty"`
}

// TokenDetails identifies a stored OAuth token by its owner.
type TokenDetails struct {
	UserEmail string `json:"userEmail"`
}

// ForceRefreshTokenTask refreshes stored OAuth tokens before they expire.
type ForceRefreshTokenTask struct {
	TokensToRefresh []TokenDetails `json:"tokensToRefresh"`
}

// Task is the payload carried by a ScheduledTask. Exactly one of the
// pointer fields matching Kind is set.
type Task struct {
	Kind TaskKind

	Test              *TestTask
	SendEmail         *SendEmailTask
	SendSms           *SendSmsTask
	DiscordReminder   *DiscordReminderTask
	ForceRefreshToken *ForceRefreshTokenTask
}

// NewTestTask returns a Test task with the given debug message.
func NewTestTask(message string) Task {
	return Task{Kind: TaskTest, Test: &TestTask{DebugMessage: message}}
}

// Payload returns the kind-specific payload, or nil when unset.
func (t Task) Payload() any {
	switch t.Kind {
	case TaskTest:
		if t.Test != nil {
			return t.Test
		}
	case TaskSendEmail:
		if t.SendEmail != nil {
			return t.SendEmail
		}
	case TaskSendSms:
		if t.SendSms != nil {
			return t.SendSms
		}
	case TaskDiscordReminder:
		if t.DiscordReminder != nil {
			return t.DiscordReminder
		}
	case TaskForceRefreshToken:
		if t.ForceRefreshToken != nil {
			return t.ForceRefreshToken
		}
	}
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	payload := t.Payload()
	if payload == nil {
		return nil, fmt.Errorf("marshal task: no payload for kind %q", t.Kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	kind, _ := json.Marshal(t.Kind)

	var buf bytes.Buffer
	buf.WriteString(`{"taskKind":`)
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1 : len(body)-1])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var head struct {
		Kind *TaskKind `json:"taskKind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	if head.Kind == nil {
		return fmt.Errorf("task is missing required field 'taskKind'")
	}

	out := Task{Kind: *head.Kind}
	var err error
	switch out.Kind {
	case TaskTest:
		out.Test = &TestTask{}
		err = decodeTaskPayload(b, out.Test)
	case TaskSendEmail:
		out.SendEmail = &SendEmailTask{}
		err = decodeTaskPayload(b, out.SendEmail)
	case TaskSendSms:
		out.SendSms = &SendSmsTask{}
		err = decodeTaskPayload(b, out.SendSms)
	case TaskDiscordReminder:
		out.DiscordReminder = &DiscordReminderTask{}
		err = decodeTaskPayload(b, out.DiscordReminder)
	case TaskForceRefreshToken:
		out.ForceRefreshToken = &ForceRefreshTokenTask{}
		err = decodeTaskPayload(b, out.ForceRefreshToken)
	}
	if err != nil {
		return fmt.Errorf("%s task: %w", out.Kind, err)
	}
	*t = out
	return nil
}

// decodeTaskPayload strictly decodes the object b into payload, ignoring
// only the discriminant.
func decodeTaskPayload(b []byte, payload any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for k := range fields {
		if strings.EqualFold(k, "taskKind") {
			delete(fields, k)
		}
	}
	rest, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(rest))
	dec.DisallowUnknownFields()
	return dec.Decode(payload)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// IsValidEmail reports whether s looks like an email address.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Validate checks the payload for the task kind.
func (t Task) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if t.Payload() == nil {
		if _, err := ParseTaskKind(string(t.Kind)); err != nil {
			add("taskKind", "%v", err)
		} else {
			add("task", "%s task has no payload", t.Kind)
		}
		return errs
	}

	switch t.Kind {
	case TaskTest:
		if t.Test.DebugMessage == "" {
			add("debugMessage", "Test task is missing field 'debugMessage'")
		}

	case TaskSendEmail:
		e := t.SendEmail
		if e.Sender != "" && !IsValidEmail(e.Sender) {
			add("sender", "Field 'sender' in SendEmail task must be a valid email address (if specified)")
		}
		if len(e.ToRecipients) == 0 {
			add("toRecipients", "SendEmail task must have a non-empty list of 'toRecipients'")
		}
		for _, list := range []struct {
			field      string
			recipients []string
		}{
			{"toRecipients", e.ToRecipients},
			{"ccRecipients", e.CCRecipients},
			{"bccRecipients", e.BccRecipients},
		} {
			for i, r := range list.recipients {
				if !IsValidEmail(r) {
					add(fmt.Sprintf("%s[%d]", list.field, i), "Recipient in field '%s' at index %d is not a valid email address", list.field, i)
				}
			}
		}
		if e.Subject == "" {
			add("subject", "SendEmail task is missing field 'subject'")
		}
		if (e.Message == "") == (e.TemplateFilePath == "") {
			add("message", "SendEmail task must specify exactly one of 'message' or 'templateFilePath'")
		}

	case TaskSendSms:
		s := t.SendSms
		switch {
		case strings.TrimSpace(s.PhoneNumber) == "":
			add("phoneNumber", "SendSms task is missing field 'phoneNumber'")
		case !isValidPhoneNumber(s.PhoneNumber):
			add("phoneNumber", "Phone number '%s' is not valid. Only include digits, prefixed with country code '1'.", s.PhoneNumber)
		case s.PhoneNumber[0] != '1':
			add("phoneNumber", "Phone number '%s' is not allowed. Only US/Canadian phone numbers are valid (and must be prefixed by country code '1').", s.PhoneNumber)
		}
		if strings.TrimSpace(s.Message) == "" {
			add("message", "SendSms task is missing field 'message'")
		}

	case TaskDiscordReminder:
		d := t.DiscordReminder
		if (d.Recipient == nil) == (d.RecipientName == "") {
			add("recipient", "DiscordReminder task must specify exactly one of 'recipient' and 'recipientName'")
		}
		if d.Recipient != nil {
			if d.Recipient.GuildID == nil {
				add("recipient.guildId", "Discord recipient is missing required field 'guildId'")
			}
			if d.Recipient.ChannelID == nil {
				add("recipient.channelId", "Discord recipient is missing required field 'channelId'")
			}
		}
		if (d.Message == "") == (d.TemplateFilePath == "") {
			add("message", "DiscordReminder task must specify exactly one of 'message' or 'templateFilePath'")
		}

	case TaskForceRefreshToken:
		f := t.ForceRefreshToken
		if len(f.TokensToRefresh) == 0 {
			add("tokensToRefresh", "ForceRefreshToken task must specify non-empty list property 'tokensToRefresh'")
		}
		for i, tok := range f.TokensToRefresh {
			if tok.UserEmail == "" {
				add(fmt.Sprintf("tokensToRefresh[%d].userEmail", i), "TokenDetails in ForceRefreshToken task is missing field 'userEmail'")
			}
		}
	}

	return errs.orNil()
}

func isValidPhoneNumber(s string) bool {
	if len(s) != 11 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
