package setup

import (
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	"localauth/internal/passwd"
	"localauth/internal/store"
)

// Defaults applied to optional initialize fields.
const (
	DefaultDBUsername = "authentik"
	DefaultDBName     = "authentik"
	DefaultBaseDN     = "dc=local,dc=auth"
	MinAdminPassword  = 12
)

var sqlIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// inputError is a problem with the submitted form, shown to the user as is.
type inputError string

func (e inputError) Error() string { return string(e) }

type initializeRequest struct {
	AdminEmail           string `json:"admin_email"`
	AdminPassword        string `json:"admin_password"`
	AdminPasswordConfirm string `json:"admin_password_confirm"`
	DBUsername           string `json:"db_username"`
	DBName               string `json:"db_name"`
	DBPassword           string `json:"db_password"`
	LDAPBaseDN           string `json:"ldap_base_dn"`
	LDAPAdminPassword    string `json:"ldap_admin_password"`
	LDAPReadonlyPassword string `json:"ldap_readonly_password"`
	RadiusSecret         string `json:"radius_secret"`
}

// validate applies defaults and returns the first user-facing problem.
func (req *initializeRequest) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"admin_email", req.AdminEmail},
		{"admin_password", req.AdminPassword},
		{"admin_password_confirm", req.AdminPasswordConfirm},
		{"db_password", req.DBPassword},
		{"ldap_admin_password", req.LDAPAdminPassword},
		{"ldap_readonly_password", req.LDAPReadonlyPassword},
	}
	for _, f := range required {
		if f.value == "" {
			return inputError(fmt.Sprintf("Missing required field: %s", f.name))
		}
	}

	if req.AdminPassword != req.AdminPasswordConfirm {
		return inputError("Admin passwords do not match")
	}
	if utf8.RuneCountInString(req.AdminPassword) < MinAdminPassword {
		return inputError(fmt.Sprintf("Admin password must be at least %d characters", MinAdminPassword))
	}
	if _, err := mail.ParseAddress(req.AdminEmail); err != nil || strings.ContainsAny(req.AdminEmail, "<> ") {
		return inputError("Admin email is not a valid address")
	}

	req.DBUsername = defaultString(req.DBUsername, DefaultDBUsername)
	req.DBName = defaultString(req.DBName, DefaultDBName)
	req.LDAPBaseDN = defaultString(req.LDAPBaseDN, DefaultBaseDN)

	if !sqlIdentifier.MatchString(req.DBUsername) {
		return inputError("Database username must be a plain SQL identifier")
	}
	if !sqlIdentifier.MatchString(req.DBName) {
		return inputError("Database name must be a plain SQL identifier")
	}
	if dn, err := ldap.ParseDN(req.LDAPBaseDN); err != nil || len(dn.RDNs) == 0 {
		return inputError("LDAP base DN is not a valid distinguished name")
	}
	if strings.ContainsAny(req.RadiusSecret, ":;\n") {
		return inputError("RADIUS secret must not contain ':', ';' or newlines")
	}
	return nil
}

func defaultString(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	initialized, err := s.store.Initialized()
	if err != nil {
		s.internalError(w, r, "setup.initialize.error", err)
		return
	}
	if initialized {
		writeError(w, http.StatusConflict, "System already initialized")
		return
	}
	exists, err := s.store.Exists()
	if err != nil {
		s.internalError(w, r, "setup.initialize.error", err)
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "Configuration already submitted")
		return
	}

	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seed, err := s.seedFrom(req)
	if err != nil {
		s.internalError(w, r, "setup.initialize.error", err)
		return
	}
	if err := s.persist(seed); err != nil {
		s.internalError(w, r, "setup.initialize.error", err)
		return
	}

	s.logger.Info("setup.initialize.accepted", "Configuration submitted", map[string]interface{}{
		"request_id":   RequestID(r.Context()),
		"admin_email":  seed.AdminEmail,
		"ldap_base_dn": seed.LDAPBaseDN,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Configuration saved, initialization will continue",
		"next_steps": []string{
			"Services are being probed and configured",
			"Sign in to the identity provider with the admin credentials you just set",
		},
	})
}

func (s *Server) seedFrom(req initializeRequest) (*store.Seed, error) {
	radiusSecret := req.RadiusSecret
	if radiusSecret == "" {
		var err error
		if radiusSecret, err = passwd.GenerateToken(radiusSecretBytes); err != nil {
			return nil, err
		}
	}
	token, err := passwd.GenerateToken(bootstrapTokenSize)
	if err != nil {
		return nil, err
	}

	return &store.Seed{
		AdminEmail:           strings.TrimSpace(req.AdminEmail),
		AdminPassword:        req.AdminPassword,
		DBUsername:           req.DBUsername,
		DBName:               req.DBName,
		DBPassword:           req.DBPassword,
		LDAPBaseDN:           req.LDAPBaseDN,
		LDAPAdminPassword:    req.LDAPAdminPassword,
		LDAPReadonlyPassword: req.LDAPReadonlyPassword,
		RadiusSecret:         radiusSecret,
		BootstrapToken:       token,
	}, nil
}

// persist writes the seed and the runtime env before SystemConfig. The
// orchestrator acts on SystemConfig, so it is written last and any earlier
// failure leaves the directory ready for another submission.
func (s *Server) persist(seed *store.Seed) error {
	if err := s.store.SaveSeed(seed); err != nil {
		return err
	}
	cfg, err := store.FromSeed(seed, s.params)
	if err != nil {
		_ = s.store.RemoveSeed()
		return err
	}
	if err := s.store.WriteRuntimeEnv(cfg); err != nil {
		_ = s.store.RemoveSeed()
		return err
	}
	if err := s.store.Save(cfg); err != nil {
		_ = s.store.RemoveSeed()
		return err
	}
	return nil
}
