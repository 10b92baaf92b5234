// Package identify turns a vendor-parameter response into a classified
// device. Classification is a deliberately conservative allow-list: an
// HTTP service that does not speak the vendor parameter format, or does
// not carry the manufacturer marker, is discarded rather than guessed
// at.
package identify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"camscout/internal/digest"
	"camscout/internal/domain"
)

// ErrNotSupported - the endpoint answered but is not a device we
// recognize. Excluded silently by callers.
var ErrNotSupported = errors.New("not a supported device")

// Identification is the outcome of a successful vendor probe
type Identification struct {
	Role         domain.Role
	Model        string
	Manufacturer string
	ProductType  string
	MAC          string
	Params       map[string]string
}

// Identifier issues the vendor-parameter request and classifies the
// response.
type Identifier struct {
	client          *digest.Client
	paramPath       string
	markers         []string
	speakerKeywords []string
}

// New creates an identifier
func New(client *digest.Client, paramPath string, markers, speakerKeywords []string) *Identifier {
	return &Identifier{
		client:          client,
		paramPath:       paramPath,
		markers:         markers,
		speakerKeywords: speakerKeywords,
	}
}

// Identify runs the authenticated vendor query against a negotiated
// target. Digest sentinel errors pass through untouched so the caller
// can distinguish wrong credentials from unsupported endpoints.
func (i *Identifier) Identify(ctx context.Context, target domain.Target, creds domain.CredentialSet) (*Identification, error) {
	body, status, err := i.client.AuthenticatedRequest(ctx, target, i.paramPath, http.MethodGet, creds)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: vendor query returned %d", ErrNotSupported, status)
	}
	return Classify(ParseParams(string(body)), i.markers, i.speakerKeywords)
}

// VendorPresent checks a target for the vendor endpoint without
// credentials. A 200 that classifies, or a 401 carrying a Digest
// challenge (the endpoint exists but is protected), both count as
// vendor presence; anything else does not.
func (i *Identifier) VendorPresent(ctx context.Context, target domain.Target) bool {
	status, hasDigest, body, err := i.client.Challenge(ctx, target, i.paramPath)
	if err != nil {
		return false
	}
	switch status {
	case http.StatusOK:
		_, err := Classify(ParseParams(string(body)), i.markers, i.speakerKeywords)
		return err == nil
	case http.StatusUnauthorized:
		return hasDigest
	default:
		return false
	}
}

// ParamPath returns the configured vendor endpoint path
func (i *Identifier) ParamPath() string {
	return i.paramPath
}

// ParseParams parses the key=value body of the vendor endpoint.
// Namespace prefixes ("root.Brand.ProdNbr") are stripped to the final
// segment; later duplicates win.
func ParseParams(text string) map[string]string {
	params := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if dot := strings.LastIndexByte(key, '.'); dot >= 0 {
			key = key[dot+1:]
		}
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(line[eq+1:])
	}
	return params
}

// Classify applies the role rules to parsed parameters:
//
//	product type matches a speaker keyword  -> speaker
//	manufacturer marker present             -> camera
//	anything else                           -> ErrNotSupported
//
// Pure function: the same text always yields the same identification.
func Classify(params map[string]string, markers, speakerKeywords []string) (*Identification, error) {
	id := &Identification{
		Model:        params["ProdNbr"],
		Manufacturer: params["Brand"],
		ProductType:  params["ProdType"],
		MAC:          NormalizeMAC(firstNonEmpty(params["SerialNumber"], params["MACAddress"])),
		Params:       params,
	}

	prodType := strings.ToLower(id.ProductType)
	for _, kw := range speakerKeywords {
		if kw != "" && strings.Contains(prodType, strings.ToLower(kw)) {
			id.Role = domain.RoleSpeaker
			return id, nil
		}
	}

	for _, marker := range markers {
		if marker != "" && containsFold(id.Manufacturer, marker) {
			id.Role = domain.RoleCamera
			return id, nil
		}
	}

	return nil, fmt.Errorf("%w: no manufacturer marker in %q", ErrNotSupported, id.Manufacturer)
}

// NormalizeMAC renders a 12-hex-digit serial as a colon-separated MAC;
// anything else is passed through uppercased.
func NormalizeMAC(s string) string {
	clean := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(s)))
	if len(clean) != 12 || !isHex(clean) {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = clean[i*2 : i*2+2]
	}
	return strings.Join(parts, ":")
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
