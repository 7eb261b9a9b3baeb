package chat

import (
	"fmt"
	"strconv"

	"github.com/slack-go/slack"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Action ids carried by interactive elements.
const (
	ActionMarkResolved = "mark_resolved"
	ActionQuestionTag  = "question-tag-list"
	ActionTeamTags     = "team-tag-list"
)

const noQuestionTagsValue = "None"

// ReplyBlocks renders the user facing reply posted under a new question: the
// explainer, a resolve button carrying the question key and a link to the
// backend mirror.
func ReplyBlocks(text, buttonLabel, questionKey, backendURL string) []slack.Block {
	button := slack.NewButtonBlockElement(ActionMarkResolved, questionKey,
		slack.NewTextBlockObject(slack.PlainTextType, buttonLabel, false, false)).
		WithStyle(slack.StylePrimary)

	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock("resolve", button),
		slack.NewContextBlock("backend",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("<%s|backend> (for support team).", backendURL), false, false)),
	}
}

// BackendMirror holds what is rendered into the ticket channel copy of a question.
type BackendMirror struct {
	AuthorID      string
	ThreadURL     string
	PastTickets   int
	ReopenedByID  string
	QuestionTags  []domain.Tag
	QuestionTagID *int64
	CategoryTags  []domain.Tag
}

// BackendText is the notification fallback for the mirror message.
func BackendText(authorID, description string, reopened bool) string {
	if reopened {
		return fmt.Sprintf("Reopened ticket from <@%s>: %s", authorID, description)
	}
	return fmt.Sprintf("New question from <@%s>: %s", authorID, description)
}

// BackendBlocks renders the mirror message with its tagging controls.
func BackendBlocks(m BackendMirror) []slack.Block {
	options := make([]*slack.OptionBlockObject, 0, len(m.QuestionTags))
	var initial *slack.OptionBlockObject
	for _, tag := range m.QuestionTags {
		opt := TagOption(tag)
		options = append(options, opt)
		if m.QuestionTagID != nil && *m.QuestionTagID == tag.ID {
			initial = opt
		}
	}
	if len(options) == 0 {
		options = append(options, slack.NewOptionBlockObject(noQuestionTagsValue,
			slack.NewTextBlockObject(slack.PlainTextType, ":dotted_line_face: No question tags available", true, false), nil))
	}

	questionSelect := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic,
		slack.NewTextBlockObject(slack.PlainTextType, "Which question tag fits?", false, false),
		ActionQuestionTag, options...)
	questionSelect.InitialOption = initial

	minQuery := 0
	teamSelect := slack.NewOptionsMultiSelectBlockElement(slack.MultiOptTypeExternal,
		slack.NewTextBlockObject(slack.PlainTextType, "Select team tags", false, false),
		ActionTeamTags)
	teamSelect.MinQueryLength = &minQuery
	for _, tag := range m.CategoryTags {
		teamSelect.InitialOptions = append(teamSelect.InitialOptions, TagOption(tag))
	}

	var context string
	if m.ReopenedByID != "" {
		context = fmt.Sprintf("Reopened by <@%s>. Originally submitted by <@%s>. <%s|View thread>.",
			m.ReopenedByID, m.AuthorID, m.ThreadURL)
	} else {
		context = fmt.Sprintf("Submitted by <@%s>. They have %d past tickets. <%s|View thread>.",
			m.AuthorID, m.PastTickets, m.ThreadURL)
	}

	return []slack.Block{
		slack.NewActionBlock("question_tag", questionSelect),
		slack.NewActionBlock("team_tags", teamSelect),
		slack.NewContextBlock("submitted",
			slack.NewTextBlockObject(slack.MarkdownType, context, false, false)),
	}
}

// TagOption renders a tag as a select option whose value is the tag id.
func TagOption(tag domain.Tag) *slack.OptionBlockObject {
	return slack.NewOptionBlockObject(strconv.FormatInt(tag.ID, 10),
		slack.NewTextBlockObject(slack.PlainTextType, tag.Name, false, false), nil)
}

// ParseTagOption reads a tag id back out of a selected option value. The
// placeholder option and malformed values report false.
func ParseTagOption(value string) (int64, bool) {
	if value == "" || value == noQuestionTagsValue {
		return 0, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
