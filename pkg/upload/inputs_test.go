package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "docs/a.pdf", "a")
	b := writeFile(t, dir, "docs/nested/b.pdf", "b")
	writeFile(t, dir, "docs/c.txt", "c")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs/empty.pdf"), 0o755))

	plain := filepath.Join(dir, "plain.mp4")
	noMatch := filepath.Join(dir, "none/*.wav")

	inputs, err := ExpandInputs([]string{
		filepath.Join(dir, "docs/**/*.pdf"),
		plain,
		"s3://bucket/clip*.mp4",
		noMatch,
	})
	require.NoError(t, err)

	var refs []string
	for _, in := range inputs {
		refs = append(refs, in.Ref)
	}
	assert.Equal(t, []string{a, b, plain, "s3://bucket/clip*.mp4", noMatch}, refs)
}

func TestExpandInputs_InvalidPattern(t *testing.T) {
	_, err := ExpandInputs([]string{"docs/[unclosed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid glob pattern")
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    string
		want    []Input
		wantErr string
	}{
		{
			name: "yaml",
			path: "batch.yaml",
			data: "files:\n  - path: a.pdf\n  - path: s3://b/clip.mp4\n    displayName: Intro\n    mimeType: video/mp4\n",
			want: []Input{
				{Ref: "a.pdf"},
				{Ref: "s3://b/clip.mp4", DisplayName: "Intro", MIMEType: "video/mp4"},
			},
		},
		{
			name: "json",
			path: "batch.json",
			data: `{"files":[{"path":"a.pdf","displayName":"A"}]}`,
			want: []Input{{Ref: "a.pdf", DisplayName: "A"}},
		},
		{
			name: "unknown extension falls back",
			path: "batch.list",
			data: `{"files":[{"path":"x"}]}`,
			want: []Input{{Ref: "x"}},
		},
		{name: "empty", path: "b.yaml", data: "  \n", wantErr: "manifest file is empty"},
		{name: "no files", path: "b.yaml", data: "files: []\n", wantErr: "manifest lists no files"},
		{name: "missing path", path: "b.yaml", data: "files:\n  - displayName: x\n", wantErr: "files[0]: path is required"},
		{name: "bad json", path: "b.json", data: "{", wantErr: "invalid JSON in manifest"},
		{name: "bad yaml", path: "b.yml", data: "files: [", wantErr: "invalid YAML in manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseManifest([]byte(tt.data), tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadManifest_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "batch.yaml", "files:\n  - path: media/a.mp4\n  - path: /abs/b.mp4\n  - path: s3://bucket/c.mp4\n")

	inputs, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, filepath.Join(dir, "media/a.mp4"), inputs[0].Ref)
	assert.Equal(t, "/abs/b.mp4", inputs[1].Ref)
	assert.Equal(t, "s3://bucket/c.mp4", inputs[2].Ref)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest file not found")
}

func TestDetectors(t *testing.T) {
	pdf := []byte("%PDF-1.4\n")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name string
		d    Detector
		file string
		head []byte
		want string
	}{
		{name: "magic pdf", d: MagicDetector{}, file: "x", head: pdf, want: "application/pdf"},
		{name: "magic png", d: MagicDetector{}, file: "x", head: png, want: "image/png"},
		{name: "magic text drops charset", d: MagicDetector{}, file: "x", head: []byte("hello world"), want: "text/plain"},
		{name: "magic empty", d: MagicDetector{}, file: "x", head: nil, want: ""},
		{name: "magic unknown binary", d: MagicDetector{}, file: "x", head: []byte{0x00, 0x01, 0x02, 0xff}, want: ""},
		{name: "extension", d: ExtensionDetector{}, file: "clip.PDF", want: "application/pdf"},
		{name: "no extension", d: ExtensionDetector{}, file: "README", want: ""},
		{name: "chain falls through", d: Chain{MagicDetector{}, ExtensionDetector{}}, file: "doc.pdf", head: []byte{0x00, 0x01}, want: "application/pdf"},
		{name: "chain skips nil", d: Chain{nil, ExtensionDetector{}}, file: "a.pdf", want: "application/pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Detect(tt.file, tt.head))
		})
	}

	assert.Equal(t, FallbackMIMEType, DetectMIMEType(Chain{}, "x", nil))
	assert.Equal(t, FallbackMIMEType, DetectMIMEType(nil, "x", nil))
}
