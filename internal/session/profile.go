package session

import (
	"strings"

	"github.com/sakif/pharmacy-session/internal/identity"
	"github.com/sakif/pharmacy-session/internal/model"
	"github.com/sakif/pharmacy-session/internal/profileapi"
	"github.com/sakif/pharmacy-session/internal/sanitize"
)

const maxUsernameLen = 20

// provisionRequest builds the payload that creates a backend profile for an
// identity seen for the first time.
func provisionRequest(ident *identity.Identity) model.ProvisionRequest {
	local := ident.EmailLocalPart()

	name := strings.TrimSpace(ident.DisplayName)
	if name == "" {
		name = local
	}

	return model.ProvisionRequest{
		UID:            ident.UID,
		Email:          ident.Email,
		Name:           name,
		Username:       deriveUsername(ident.DisplayName, local),
		Role:           model.RoleCustomer,
		ProfilePicture: ident.PhotoURL,
	}
}

// deriveUsername lowercases displayName, keeps only [a-z0-9_] and truncates to
// 20 characters. An empty result falls back to the email local part unchanged.
func deriveUsername(displayName, emailLocal string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(displayName) {
		if b.Len() == maxUsernameLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return emailLocal
	}
	return b.String()
}

// publishable converts a backend body into the profile the session publishes.
// Every string is HTML-escaped and the picture is checked, not escaped.
func publishable(body *profileapi.ProfileBody, origin string) *model.Profile {
	p := &model.Profile{
		ID:             sanitize.EscapeHTML(body.ID),
		UID:            sanitize.EscapeHTML(body.UID),
		Name:           sanitize.EscapeHTML(body.Name),
		Email:          sanitize.EscapeHTML(body.Email),
		Username:       sanitize.EscapeHTML(body.Username),
		Role:           model.Role(sanitize.EscapeHTML(body.Role)),
		IsActive:       !body.Deactivated(),
		Phone:          sanitize.EscapeHTML(body.Phone),
		Address:        sanitize.EscapeHTML(body.Address),
		ProfilePicture: sanitize.PictureURL(body.ProfilePicture, origin),
	}
	if body.CreatedAt != nil {
		p.CreatedAt = *body.CreatedAt
	}
	return p
}

// outgoingPatch escapes the text fields of an update before it leaves the
// client. A picture that is neither an uploads path nor an http(s) URL is
// reported back as ok == false.
func outgoingPatch(in model.ProfilePatch) (out model.ProfilePatch, ok bool) {
	escape := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := sanitize.EscapeHTML(strings.TrimSpace(*s))
		return &v
	}

	out = model.ProfilePatch{
		Name:     escape(in.Name),
		Username: escape(in.Username),
		Phone:    escape(in.Phone),
		Address:  escape(in.Address),
	}

	if in.ProfilePicture != nil {
		pic := strings.TrimSpace(*in.ProfilePicture)
		if pic != "" && sanitize.PictureURL(pic, "") == "" {
			return out, false
		}
		out.ProfilePicture = &pic
	}
	return out, true
}
