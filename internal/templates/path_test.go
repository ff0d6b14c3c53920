package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompilePathRejectsRelative(t *testing.T) {
	_, err := CompilePath("bad", "categories")
	require.Error(t, err)
}

func TestCompilePathRejectsBrokenTemplate(t *testing.T) {
	_, err := CompilePath("bad", "/category/{{ .ID ")
	require.Error(t, err)
}

func TestPathRender(t *testing.T) {
	type byID struct{ ID string }

	tests := []struct {
		name    string
		source  string
		data    any
		want    string
		wantErr error
	}{
		{name: "static path", source: "/categories", data: nil, want: "/categories"},
		{name: "struct field", source: "/category/{{ seg .ID }}", data: byID{ID: "c1"}, want: "/category/c1"},
		{name: "bare string argument", source: "/user/profile/{{ seg . }}", data: "u-42", want: "/user/profile/u-42"},
		{name: "escapes segment", source: "/category/{{ seg .ID }}", data: byID{ID: "a/b c"}, want: "/category/a%2Fb%20c"},
		{name: "sprig helpers available", source: "/category/{{ .ID | lower | seg }}", data: byID{ID: "ABC"}, want: "/category/abc"},
		{name: "empty placeholder", source: "/category/{{ seg .ID }}", data: byID{}, wantErr: ErrInvalidPath},
		{name: "empty middle segment", source: "/a/{{ seg . }}/b", data: "", wantErr: ErrInvalidPath},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := CompilePath(tc.name, tc.source)
			require.NoError(t, err)
			got, err := p.Render(tc.data)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPathRenderMissingMapKey(t *testing.T) {
	p := MustCompilePath("map", "/category/{{ seg .id }}")
	_, err := p.Render(map[string]any{})
	require.Error(t, err)
}

func TestEnvHelpersRemoved(t *testing.T) {
	_, err := CompilePath("env", `/x/{{ env "HOME" }}`)
	require.Error(t, err, "env must not be a known function")
}

func TestStatic(t *testing.T) {
	require.True(t, MustCompilePath("s", "/categories").Static())
	require.False(t, MustCompilePath("d", "/category/{{ seg .ID }}").Static())
}
