package credentials

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Credentials is the persisted vendor login: the OIDC client registration,
// the long-lived refresh token, the profile the chat API bills against and
// the last access token seen.
//
// RefreshToken, ClientID and ClientSecret are needed for API refresh.
// AccessToken is a cache and may be empty.
type Credentials struct {
	RefreshToken string `json:"refresh_token,omitempty" validate:"required"`
	ClientID     string `json:"client_id,omitempty" validate:"required"`
	ClientSecret string `json:"client_secret,omitempty" validate:"required"`
	ProfileARN   string `json:"profile_arn,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
}

// UnmarshalJSON accepts both snake_case and camelCase field names. When both
// spellings are present the snake_case value wins.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	var aliases struct {
		RefreshToken      string `json:"refresh_token"`
		RefreshTokenCamel string `json:"refreshToken"`
		ClientID          string `json:"client_id"`
		ClientIDCamel     string `json:"clientId"`
		ClientSecret      string `json:"client_secret"`
		ClientSecretCamel string `json:"clientSecret"`
		ProfileARN        string `json:"profile_arn"`
		ProfileARNCamel   string `json:"profileArn"`
		AccessToken       string `json:"access_token"`
		AccessTokenCamel  string `json:"accessToken"`
	}
	if err := json.Unmarshal(data, &aliases); err != nil {
		return err
	}

	*c = Credentials{
		RefreshToken: cmp.Or(aliases.RefreshToken, aliases.RefreshTokenCamel),
		ClientID:     cmp.Or(aliases.ClientID, aliases.ClientIDCamel),
		ClientSecret: cmp.Or(aliases.ClientSecret, aliases.ClientSecretCamel),
		ProfileARN:   cmp.Or(aliases.ProfileARN, aliases.ProfileARNCamel),
		AccessToken:  cmp.Or(aliases.AccessToken, aliases.AccessTokenCamel),
	}
	return nil
}

// CanRefresh reports whether the fields required for an API refresh are set.
func (c *Credentials) CanRefresh() bool {
	return c != nil && c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != ""
}

// MissingFieldsError lists required fields that are empty, by JSON name.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the refresh fields are present.
func (c *Credentials) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating credentials: %w", err)
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &MissingFieldsError{Fields: missing}
}
