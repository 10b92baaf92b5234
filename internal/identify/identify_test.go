package identify

import (
	"errors"
	"reflect"
	"testing"

	"camscout/internal/domain"
)

var (
	markers         = []string{"AXIS", "Axis Communications"}
	speakerKeywords = []string{"speaker", "horn", "audio bridge", "sound"}
)

const cameraParams = `root.Brand.Brand=AXIS
root.Brand.ProdFullName=AXIS M3067-P Network Camera
root.Brand.ProdNbr=M3067-P
root.Brand.ProdShortName=AXIS M3067-P
root.Brand.ProdType=Network Camera
root.Brand.SerialNumber=B8A44F45D624
`

func TestParseParams(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			name: "namespaced",
			text: "root.Brand.Brand=AXIS\nroot.Brand.ProdNbr=M3067-P\n",
			want: map[string]string{"Brand": "AXIS", "ProdNbr": "M3067-P"},
		},
		{
			name: "bare keys",
			text: "Brand=AXIS\nProdType=Network Camera",
			want: map[string]string{"Brand": "AXIS", "ProdType": "Network Camera"},
		},
		{
			name: "blank lines and comments ignored",
			text: "\n# header\nBrand=AXIS\n\n",
			want: map[string]string{"Brand": "AXIS"},
		},
		{
			name: "value may contain equals",
			text: "Brand=AXIS\nNonce=aW3s=extra",
			want: map[string]string{"Brand": "AXIS", "Nonce": "aW3s=extra"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseParams(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseParams = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyCamera(t *testing.T) {
	id, err := Classify(ParseParams(cameraParams), markers, speakerKeywords)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if id.Role != domain.RoleCamera {
		t.Errorf("role = %s, want camera", id.Role)
	}
	if id.Model != "M3067-P" {
		t.Errorf("model = %q, want M3067-P", id.Model)
	}
	if id.Manufacturer != "AXIS" {
		t.Errorf("manufacturer = %q", id.Manufacturer)
	}
	if id.MAC != "B8:A4:4F:45:D6:24" {
		t.Errorf("mac = %q, want B8:A4:4F:45:D6:24", id.MAC)
	}
}

func TestClassifySpeaker(t *testing.T) {
	text := `root.Brand.Brand=AXIS
root.Brand.ProdNbr=C1310-E
root.Brand.ProdType=Network Horn Speaker
`
	id, err := Classify(ParseParams(text), markers, speakerKeywords)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if id.Role != domain.RoleSpeaker {
		t.Errorf("role = %s, want speaker (product type beats manufacturer marker)", id.Role)
	}
}

func TestClassifyUnrelatedServiceDiscarded(t *testing.T) {
	text := "Brand=SomeRouterCo\nProdType=Residential Gateway\n"
	_, err := Classify(ParseParams(text), markers, speakerKeywords)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("err = %v, want ErrNotSupported", err)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	first, err1 := Classify(ParseParams(cameraParams), markers, speakerKeywords)
	second, err2 := Classify(ParseParams(cameraParams), markers, speakerKeywords)
	if err1 != nil || err2 != nil {
		t.Fatalf("errs: %v, %v", err1, err2)
	}
	if first.Role != second.Role || first.Model != second.Model {
		t.Errorf("classification not idempotent: %+v vs %+v", first, second)
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"B8A44F45D624", "B8:A4:4F:45:D6:24"},
		{"b8:a4:4f:45:d6:24", "B8:A4:4F:45:D6:24"},
		{"ACCC8E000AAB", "AC:CC:8E:00:0A:AB"},
		{"not-a-mac", "NOT-A-MAC"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMAC(tt.in); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
