package setup

import (
	"html/template"
	"net/http"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>localauth</title>
<style>
body { font-family: sans-serif; max-width: 36rem; margin: 2rem auto; }
label { display: block; margin-top: .75rem; }
input, select { width: 100%; padding: .3rem; }
#result { margin-top: 1rem; white-space: pre-wrap; }
</style>
</head>
<body>
{{if .Initialized}}
<h1>localauth is initialized</h1>
{{if .Management}}
<form id="form" data-endpoint="/api/reset-password">
<label>Account
<select name="target">
<option value="admin">Identity provider admin</option>
<option value="database">Database</option>
<option value="ldap_admin">LDAP admin</option>
<option value="ldap_readonly">LDAP read-only</option>
</select></label>
<label>Current password <input type="password" name="current_password" required></label>
<label>New password <input type="password" name="new_password" required></label>
<label>Confirm new password <input type="password" name="new_password_confirm" required></label>
<button type="submit">Change password</button>
</form>
{{end}}
{{else if .ConfigExists}}
<h1>Configuration received</h1>
<p>Initialization is in progress.</p>
{{else}}
<h1>localauth setup</h1>
<form id="form" data-endpoint="/api/initialize">
<label>Admin email <input type="email" name="admin_email" required></label>
<label>Admin password <input type="password" name="admin_password" minlength="12" required></label>
<label>Confirm admin password <input type="password" name="admin_password_confirm" minlength="12" required></label>
<label>Database user <input name="db_username" placeholder="authentik"></label>
<label>Database name <input name="db_name" placeholder="authentik"></label>
<label>Database password <input type="password" name="db_password" required></label>
<label>LDAP base DN <input name="ldap_base_dn" placeholder="dc=local,dc=auth"></label>
<label>LDAP admin password <input type="password" name="ldap_admin_password" required></label>
<label>LDAP read-only password <input type="password" name="ldap_readonly_password" required></label>
<label>RADIUS shared secret <input type="password" name="radius_secret" placeholder="generated when empty"></label>
<button type="submit">Initialize</button>
</form>
{{end}}
<div id="result"></div>
<script>
const form = document.getElementById("form");
if (form) {
  form.addEventListener("submit", async (e) => {
    e.preventDefault();
    const body = {};
    new FormData(form).forEach((v, k) => { if (v !== "") body[k] = v; });
    const res = await fetch(form.dataset.endpoint, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body),
    });
    const data = await res.json();
    document.getElementById("result").textContent =
      res.ok ? (data.message || "Done") : ("Error: " + data.error);
  });
}
</script>
</body>
</html>
`))

type indexData struct {
	Initialized  bool
	ConfigExists bool
	Management   bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.store.Initialized()
	if err != nil {
		s.internalError(w, r, "setup.index.error", err)
		return
	}
	exists, err := s.store.Exists()
	if err != nil {
		s.internalError(w, r, "setup.index.error", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		Initialized:  initialized,
		ConfigExists: exists,
		Management:   s.resetter != nil,
	}); err != nil {
		s.logger.Warn("setup.index.render", "Failed to render index", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
