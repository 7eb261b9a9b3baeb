package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/slackapi"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// SlackHandler receives Slack's HTTP deliveries. Every request is
// acknowledged before it is handled, except option lookups.
type SlackHandler struct {
	router        *slackapi.Router
	signingSecret string
	logger        *zap.Logger
}

// NewSlackHandler constructs handler. An empty signing secret disables
// request verification.
func NewSlackHandler(router *slackapi.Router, signingSecret string, logger *zap.Logger) *SlackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if signingSecret == "" {
		logger.Warn("SLACK_SIGNING_SECRET not set; slack requests are not verified")
	}
	return &SlackHandler{router: router, signingSecret: signingSecret, logger: logger}
}

// Events POST /slack/events.
func (h *SlackHandler) Events(c *fiber.Ctx) error {
	if err := h.verify(c); err != nil {
		return err
	}
	body := append([]byte(nil), c.Body()...)

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// Inner event types the library does not model still carry the raw
		// callback, which is all the router reads.
		if _, ok := event.Data.(*slackevents.EventsAPICallbackEvent); !ok {
			return apperrors.NewValidationError("invalid event payload", nil)
		}
		h.logger.Debug("unmodelled inner event", zap.Error(err))
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return apperrors.NewValidationError("invalid challenge", nil)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
		return c.SendString(challenge.Challenge)
	}

	h.router.Go("events_api", func(ctx context.Context) error {
		return h.router.HandleEventsAPI(ctx, event)
	})
	return c.SendStatus(fiber.StatusOK)
}

// Interactions POST /slack/interactions. Block suggestions posted here are
// answered like Options.
func (h *SlackHandler) Interactions(c *fiber.Ctx) error {
	cb, err := h.interaction(c)
	if err != nil {
		return err
	}
	if cb.Type == slack.InteractionTypeBlockSuggestion {
		return h.options(c, cb)
	}

	h.router.Go("interaction", func(ctx context.Context) error {
		return h.router.HandleInteraction(ctx, cb)
	})
	return c.SendStatus(fiber.StatusOK)
}

// Options POST /slack/options.
func (h *SlackHandler) Options(c *fiber.Ctx) error {
	cb, err := h.interaction(c)
	if err != nil {
		return err
	}
	return h.options(c, cb)
}

func (h *SlackHandler) options(c *fiber.Ctx, cb slack.InteractionCallback) error {
	resp, err := h.router.Options(c.UserContext(), cb)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *SlackHandler) interaction(c *fiber.Ctx) (slack.InteractionCallback, error) {
	var cb slack.InteractionCallback
	if err := h.verify(c); err != nil {
		return cb, err
	}
	payload := []byte(c.FormValue("payload"))
	if len(payload) == 0 {
		return cb, apperrors.NewValidationError("payload required", nil)
	}
	if err := json.Unmarshal(payload, &cb); err != nil {
		return cb, apperrors.NewValidationError("invalid interaction payload", nil)
	}
	return cb, nil
}

func (h *SlackHandler) verify(c *fiber.Ctx) error {
	if h.signingSecret == "" {
		return nil
	}
	header := http.Header{}
	header.Set("X-Slack-Signature", c.Get("X-Slack-Signature"))
	header.Set("X-Slack-Request-Timestamp", c.Get("X-Slack-Request-Timestamp"))

	verifier, err := slack.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		h.logger.Warn("rejected slack request", zap.Error(err))
		return apperrors.NewUnauthorized("invalid slack signature")
	}
	if _, err := verifier.Write(c.Body()); err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := verifier.Ensure(); err != nil {
		h.logger.Warn("rejected slack request", zap.Error(err))
		return apperrors.NewUnauthorized("invalid slack signature")
	}
	return nil
}
