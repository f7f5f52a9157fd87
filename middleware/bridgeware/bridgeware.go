package bridgeware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-bridge"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Locals keys the pipeline writes to
const (
	DefaultClaimKey   = "claim"
	DefaultSessionKey = "session"
	DefaultUserKey    = "user"
)

// ValidationListener runs after a token verifies and before reconciliation
type ValidationListener func(c *fiber.Ctx, claim *auth.Claim) error

// Config configures the verify and reconcile stages and the logout handler
type Config struct {
	// Filter skips both stages when it returns true
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler

	Verifier auth.Verifier
	Resolver auth.SessionResolver

	// TokenLookup is a comma separated list of "<source>:<name>" pairs,
	// source being header, query, param or cookie
	TokenLookup string
	AuthScheme  string

	ClaimKey   string
	SessionKey string
	UserKey    string

	ValidationListeners []ValidationListener

	Logger auth.Logger
}

// New returns the verify and reconcile stages, to be mounted in order ahead
// of protected routes:
//
//	api := app.Group("/api", bridgeware.New(cfg)...)
func New(config ...Config) []fiber.Handler {
	cfg := GetDefaultConfig(config...)
	if cfg.Verifier == nil {
		panic("AUTH: bridge middleware configuration: Verifier is required.")
	}
	if cfg.Resolver == nil {
		panic("AUTH: bridge middleware configuration: Resolver is required.")
	}
	return []fiber.Handler{verify(cfg), reconcile(cfg)}
}

// Verify returns only the token verification stage
func Verify(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	if cfg.Verifier == nil {
		panic("AUTH: bridge middleware configuration: Verifier is required.")
	}
	return verify(cfg)
}

// Reconcile returns only the reconciliation stage. It expects the claim the
// verify stage stored under ClaimKey.
func Reconcile(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	if cfg.Resolver == nil {
		panic("AUTH: bridge middleware configuration: Resolver is required.")
	}
	return reconcile(cfg)
}

// Logout deletes the session bound to the request and answers 204. It must
// run behind the reconcile stage.
func Logout(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	if cfg.Resolver == nil {
		panic("AUTH: bridge middleware configuration: Resolver is required.")
	}

	return func(c *fiber.Ctx) error {
		session, ok := c.Locals(cfg.SessionKey).(*auth.Session)
		if !ok || session == nil {
			return cfg.ErrorHandler(c, auth.ErrSessionNotFound)
		}

		if err := cfg.Resolver.Logout(context.WithoutCancel(c.UserContext()), session); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.SessionKey, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func verify(cfg Config) fiber.Handler {
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, auth.WrapError(auth.ErrMalformedToken, err, map[string]any{
				"token_lookup": cfg.TokenLookup,
			}))
		}

		claim, err := cfg.Verifier.Verify(c.UserContext(), raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, claim); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Locals(cfg.ClaimKey, claim)
		c.SetUserContext(auth.WithClaim(c.UserContext(), claim))

		return c.Next()
	}
}

func reconcile(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		claim, ok := c.Locals(cfg.ClaimKey).(*auth.Claim)
		if !ok || claim == nil {
			return cfg.ErrorHandler(c, auth.WrapError(auth.ErrMalformedToken, errors.New("no verified claim on request"), nil))
		}

		// store work is not cut short by client disconnects
		res, err := cfg.Resolver.Resolve(context.WithoutCancel(c.UserContext()), claim)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.SessionKey, res.Session)
		c.Locals(cfg.UserKey, res.User)

		ctx := auth.WithUser(c.UserContext(), res.User)
		c.SetUserContext(auth.WithSession(ctx, res.Session))

		return cfg.SuccessHandler(c)
	}
}

// GetDefaultConfig fills zero values
func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.NewZapLogger(nil)
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler(cfg.Logger)
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = auth.DefaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = auth.DefaultAuthScheme
	}

	if cfg.ClaimKey == "" {
		cfg.ClaimKey = DefaultClaimKey
	}

	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}

	if cfg.UserKey == "" {
		cfg.UserKey = DefaultUserKey
	}

	return cfg
}

// DefaultErrorHandler answers with auth.HTTPStatus and a JSON body carrying
// the error text code. Server errors are logged with their cause.
func DefaultErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := auth.HTTPStatus(err)

		code := "INTERNAL_ERROR"
		var metadata map[string]any
		var richErr *goerrors.Error
		if errors.As(err, &richErr) {
			if richErr.TextCode != "" {
				code = richErr.TextCode
			}
			metadata = richErr.Metadata
		}

		message := "Invalid or expired token"
		if status >= http.StatusInternalServerError {
			message = "Internal server error"
			logger.Error("request authentication failed",
				"path", c.Path(),
				"code", code,
				"error", err,
				"details", print.MaybePrettyJSON(metadata),
			)
		} else {
			logger.Debug("request rejected", "path", c.Path(), "code", code, "error", err)
		}

		return c.Status(status).JSON(fiber.Map{
			"error":   code,
			"message": message,
		})
	}
}
