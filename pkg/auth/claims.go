package auth

// internalRoles are Keycloak bookkeeping roles present on every realm user.
// They carry no application meaning and are stripped during normalization.
var internalRoles = map[string]struct{}{
	"offline_access":      {},
	"uma_authorization":   {},
	"default-roles-kijko": {},
}

// NormalizeClaims folds the raw claims of a verified Keycloak access token
// into a [UserProfile]. It is a pure function of its inputs: no I/O, no
// clock, safe on arbitrary claim payloads.
//
// Identity fields map directly from their standard claims, with zero values
// when absent. OrgID is read from "org_id" with a fallback to the legacy
// "organization_id" claim. Roles are the union of realm_access.roles and
// resource_access[clientID].roles, deduplicated in first-seen order, with
// Keycloak's bookkeeping roles removed. Claims of unexpected types are
// treated as absent.
func NormalizeClaims(claims map[string]any, clientID string) *UserProfile {
	p := &UserProfile{}

	p.ID, _ = claims["sub"].(string)
	p.Email, _ = claims["email"].(string)
	p.EmailVerified, _ = claims["email_verified"].(bool)
	p.FirstName, _ = claims["given_name"].(string)
	p.LastName, _ = claims["family_name"].(string)
	p.PreferredUsername, _ = claims["preferred_username"].(string)

	p.OrgID, _ = claims["org_id"].(string)
	if p.OrgID == "" {
		p.OrgID, _ = claims["organization_id"].(string)
	}

	seen := make(map[string]struct{})
	add := func(roles []string) {
		for _, r := range roles {
			if r == "" {
				continue
			}
			if _, internal := internalRoles[r]; internal {
				continue
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			p.Roles = append(p.Roles, r)
		}
	}

	add(rolesAt(claims, "realm_access"))
	if ra, ok := claims["resource_access"].(map[string]any); ok {
		add(rolesAt(ra, clientID))
	}

	return p
}

// rolesAt extracts the "roles" string list nested under m[key], tolerating
// any shape deviation by returning nil.
func rolesAt(m map[string]any, key string) []string {
	inner, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := inner["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
