package popx

import (
	"context"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/nyaruka/phonenumbers"
	"github.com/popxhq/popx/gateway"
)

const DefaultSyncTimeout = 5 * time.Second

// RegisterAuthRoutes mounts the form views on app.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	app.Get(controller.Routes.Landing, controller.Landing).
		SetName("landing.get")

	app.Get(controller.Routes.Signup, controller.SignupShow).
		SetName("sign-up.get")
	app.Post(controller.Routes.Signup, controller.SignupCreate).
		SetName("sign-up.post")

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Profile, controller.ProfileShow).
		SetName("profile.get")

	app.Post(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.post")
}

type AuthControllerRoutes struct {
	Landing string
	Signup  string
	Login   string
	Profile string
	Logout  string
}

type AuthControllerViews struct {
	Landing string
	Signup  string
	Login   string
	Profile string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	PhoneRegion  string
	SyncTimeout  time.Duration
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(l Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = l
		return c
	}
}

func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// WithPhoneRegion sets the region used to parse numbers without a
// country prefix.
func WithPhoneRegion(region string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.PhoneRegion = region
		return c
	}
}

func WithErrorHandler(h router.ErrorHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.ErrorHandler = h
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		PhoneRegion:  "US",
		SyncTimeout:  DefaultSyncTimeout,
		Routes: &AuthControllerRoutes{
			Landing: PathLanding,
			Signup:  PathSignup,
			Login:   PathLogin,
			Profile: PathProfile,
			Logout:  PathLogout,
		},
		Views: &AuthControllerViews{
			Landing: ViewLanding,
			Signup:  ViewSignup,
			Login:   ViewLogin,
			Profile: ViewProfile,
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

func (a *AuthController) Landing(ctx router.Context) error {
	return ctx.Render(a.Views.Landing, router.ViewContext{})
}

func (a *AuthController) SignupShow(ctx router.Context) error {
	return ctx.Render(a.Views.Signup, router.ViewContext{
		"errors":     map[string]string{},
		"validation": map[string]string{},
		"record":     SignupPayload{IsAgency: "yes"},
	})
}

// SignupPayload is the signup form payload.
type SignupPayload struct {
	FullName    string `form:"full_name" json:"full_name"`
	PhoneNumber string `form:"phone_number" json:"phone_number"`
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	CompanyName string `form:"company_name" json:"company_name"`
	IsAgency    string `form:"is_agency" json:"is_agency"`
}

// Validate checks the payload. Phone numbers are only required; Metadata
// normalizes the valid ones.
func (r SignupPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required.Error("Full name is required"), validation.Length(1, 200)),
		validation.Field(&r.PhoneNumber, validation.Required.Error("Phone number is required")),
		validation.Field(&r.Email, validation.Required.Error("Email is required"), is.Email),
		validation.Field(&r.Password, validation.Required.Error("Password is required")),
		validation.Field(&r.CompanyName, validation.Length(0, 200)),
		validation.Field(&r.IsAgency, validation.Required.Error("Please select an option"), validation.In("yes", "no")),
	)
}

// Metadata returns the user metadata sent to the gateway.
func (r SignupPayload) Metadata(region string) map[string]any {
	return map[string]any{
		MetaFullName:    r.FullName,
		MetaPhoneNumber: NormalizePhoneNumber(r.PhoneNumber, region),
		MetaCompanyName: r.CompanyName,
		MetaIsAgency:    r.IsAgency == "yes",
	}
}

// record is the payload echoed back to the form, without the password.
func (r SignupPayload) record() SignupPayload {
	r.Password = ""
	return r
}

func (a *AuthController) SignupCreate(ctx router.Context) error {
	payload := new(SignupPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload", "error", err)
		return ctx.Status(router.StatusBadRequest).Render(a.Views.Signup, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload.record(),
		})
	}

	if a.Debug {
		a.Logger.Debug("signup payload", "payload", print.MaybePrettyJSON(payload.record()))
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Signup, router.ViewContext{
			"record":     payload.record(),
			"validation": FormatValidationErrorToMap(err),
			"errors":     map[string]string{},
		})
	}

	client, ok := ClientFromRouter(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNoClient)
	}

	_, session, err := client.Auth.SignUp(ctx.Context(), payload.Email, payload.Password, payload.Metadata(a.PhoneRegion))
	if err != nil {
		a.Logger.Info("signup rejected by gateway", "email", payload.Email, "error", err)
		return ctx.Render(a.Views.Signup, router.ViewContext{
			"record":     payload.record(),
			"validation": map[string]string{},
			"errors":     map[string]string{"authentication": gateway.Message(err)},
		})
	}

	a.waitSync(ctx, client)

	if session == nil {
		return flash.WithSuccess(ctx, router.ViewContext{
			"system_message": "Account created, confirm your email address to sign in",
		}).Redirect(a.Routes.Profile, router.StatusSeeOther)
	}

	return ctx.Redirect(a.Routes.Profile, router.StatusSeeOther)
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors":     map[string]string{},
		"validation": map[string]string{},
		"record":     LoginPayload{},
	})
}

// LoginPayload is the login form payload.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error("Email is required"), is.Email),
		validation.Field(&r.Password, validation.Required.Error("Password is required")),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return ctx.Status(router.StatusBadRequest).Render(a.Views.Login, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": LoginPayload{Email: payload.Email},
		})
	}

	record := LoginPayload{Email: payload.Email}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     record,
			"validation": FormatValidationErrorToMap(err),
			"errors":     map[string]string{},
		})
	}

	client, ok := ClientFromRouter(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNoClient)
	}

	if _, err := client.Auth.SignInWithPassword(ctx.Context(), payload.Email, payload.Password); err != nil {
		a.Logger.Info("login rejected by gateway", "email", payload.Email, "error", err)
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     record,
			"validation": map[string]string{},
			"errors":     map[string]string{"authentication": gateway.Message(err)},
		})
	}

	a.waitSync(ctx, client)

	return ctx.Redirect(a.Routes.Profile, router.StatusSeeOther)
}

func (a *AuthController) ProfileShow(ctx router.Context) error {
	session, ok := SessionFromRouter(ctx)
	if !ok {
		return ctx.Redirect(a.Routes.Login, http.StatusFound)
	}

	if a.Debug {
		a.Logger.Debug("profile session", "session", print.MaybePrettyJSON(session))
	}

	return ctx.Render(a.Views.Profile, router.ViewContext{
		"profile": NewProfileView(session),
	})
}

// LogOut signs the client out and always lands on the login view.
func (a *AuthController) LogOut(ctx router.Context) error {
	client, ok := ClientFromRouter(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrNoClient)
	}

	if err := client.Auth.SignOut(ctx.Context()); err != nil {
		a.Logger.Warn("gateway sign out failed, local session cleared", "error", err)
	}

	a.waitSync(ctx, client)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "You have been signed out",
	}).Redirect(a.Routes.Login, router.StatusSeeOther)
}

// waitSync lets the synchronizer apply the notification emitted by the
// gateway call before the browser follows the redirect.
func (a *AuthController) waitSync(ctx router.Context, client *Client) {
	wctx, cancel := context.WithTimeout(ctx.Context(), a.SyncTimeout)
	defer cancel()
	if err := client.Sync.Wait(wctx); err != nil {
		a.Logger.Warn("session sync still pending", "client_id", client.ID, "error", err)
	}
}

// NormalizePhoneNumber formats value as E.164 when it is a valid number for
// region, returning it unchanged otherwise.
func NormalizePhoneNumber(value, region string) string {
	num, err := phonenumbers.Parse(value, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return value
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Status(router.StatusInternalServerError).Render(ViewError, router.ViewContext{
		"message": errorMessage(err),
	})
}
