package tenant

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		wantErr  bool
	}{
		{name: "valid simple", tenantID: "cliente_acme1", wantErr: false},
		{name: "valid numeric", tenantID: "cliente_42", wantErr: false},
		{name: "empty", tenantID: "", wantErr: true},
		{name: "missing prefix", tenantID: "acme1", wantErr: true},
		{name: "uppercase", tenantID: "ACME1", wantErr: true},
		{name: "uppercase after prefix", tenantID: "cliente_Acme", wantErr: true},
		{name: "prefix only", tenantID: "cliente_", wantErr: true},
		{name: "hyphen not allowed", tenantID: "cliente_ac-me", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.tenantID)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateID(%q) = nil, want error", tt.tenantID)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateID(%q) = %v, want nil", tt.tenantID, err)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{name: "valid pdf", filename: "report.pdf", wantErr: false},
		{name: "valid with underscores", filename: "q1_revenue-final.v2.pdf", wantErr: false},
		{name: "empty", filename: "", wantErr: true},
		{name: "spaces", filename: "my report.pdf", wantErr: true},
		{name: "path separator", filename: "../etc/passwd", wantErr: true},
		{name: "too long", filename: strings.Repeat("a", 252) + ".pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateFilename(%q) = nil, want error", tt.filename)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateFilename(%q) = %v, want nil", tt.filename, err)
			}
		})
	}
}

func TestIndexName(t *testing.T) {
	got := IndexName("cliente_acme1")
	want := "rag-documents-cliente_acme1"
	if got != want {
		t.Errorf("IndexName() = %q, want %q", got, want)
	}

	if tenant := TenantFromIndex(got); tenant != "cliente_acme1" {
		t.Errorf("TenantFromIndex(%q) = %q, want cliente_acme1", got, tenant)
	}
	if tenant := TenantFromIndex("other-index"); tenant != "" {
		t.Errorf("TenantFromIndex(other-index) = %q, want empty", tenant)
	}
}

func TestGenerateFileKey(t *testing.T) {
	key := GenerateFileKey("cliente_acme1", "general", "annual report.pdf")

	wantPrefix := "uploads/cliente_acme1/general/"
	if !strings.HasPrefix(key, wantPrefix) {
		t.Fatalf("key %q does not start with %q", key, wantPrefix)
	}
	if !strings.HasSuffix(key, "_annual_report.pdf") {
		t.Fatalf("key %q does not end with sanitized filename", key)
	}

	// date_{8-char id}_filename.
	rest := strings.TrimPrefix(key, wantPrefix)
	segs := strings.SplitN(rest, "_", 3)
	if len(segs) != 3 {
		t.Fatalf("key tail %q does not have date, id and filename segments", rest)
	}
	if len(segs[0]) != 8 {
		t.Errorf("date segment %q is not 8 chars", segs[0])
	}
	if len(segs[1]) != 8 {
		t.Errorf("short id segment %q is not 8 chars", segs[1])
	}
}

func TestGenerateFileKey_Unique(t *testing.T) {
	a := GenerateFileKey("cliente_acme1", "general", "r.pdf")
	b := GenerateFileKey("cliente_acme1", "general", "r.pdf")
	if a == b {
		t.Errorf("two keys for the same filename collided: %q", a)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    ObjectRef
		wantErr bool
	}{
		{
			name: "valid",
			key:  "uploads/cliente_acme1/general/20240101_ab12cd34_report.pdf",
			want: ObjectRef{
				TenantID:     "cliente_acme1",
				DocumentType: "general",
				Filename:     "20240101_ab12cd34_report.pdf",
				Key:          "uploads/cliente_acme1/general/20240101_ab12cd34_report.pdf",
			},
		},
		{name: "too few segments", key: "uploads/cliente_acme1/report.pdf", wantErr: true},
		{name: "wrong prefix", key: "other/cliente_acme1/general/report.pdf", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) = nil error, want ErrMalformedKey", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) = %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"report.PDF", ".pdf"},
		{"photo.jpg", ".jpg"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := Extension(tt.filename); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
