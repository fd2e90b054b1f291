package classifier

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/domain"
)

func opts(exclude ...string) *config.Options {
	o := config.DefaultOptions()
	o.ExcludePaths = exclude
	return o
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		kind Kind
		want string
	}{
		{"/about", NotAPI, ""},
		{"/", NotAPI, ""},
		{"/api", Content, "/"},
		{"/api/", Content, "/"},
		{"/api/about", Content, "/about"},
		{"/api/docs/intro", Content, "/docs/intro"},
		{"/apiabout", Content, "/about"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := Classify(tt.path, opts())
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.want, res.ContentPath)
		})
	}
}

func TestClassifyExclusionWildcard(t *testing.T) {
	o := opts("/admin/*", "/login")

	cases := map[string]Kind{
		"/api/admin/x":   Excluded,
		"/api/admin/x/y": Excluded,
		"/api/admin/":    Excluded,
		"/api/admin":     Content,
		"/api/login":     Excluded,
		"/api/login/sso": Content,
		"/api/adminx":    Content,
	}
	for path, want := range cases {
		res, err := Classify(path, o)
		require.NoError(t, err, path)
		assert.Equal(t, want, res.Kind, path)
	}
}

func TestClassifyRejectsInvalidContentPaths(t *testing.T) {
	for _, p := range []string{
		"/api/search?q=1",
		"/api/a<b",
		"/api/a>b",
		"/api/c:d",
		`/api/"quoted"`,
		"/api/a|b",
		"/api/star*",
		"/api/" + strings.Repeat("a", MaxContentPathLength),
	} {
		_, err := Classify(p, opts())
		require.Error(t, err, p)

		var de *domain.Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, domain.KindInvalidConfig, de.Kind)
		assert.Equal(t, http.StatusBadRequest, de.Status)
	}
}

func TestClassifyAcceptsMaxLengthPath(t *testing.T) {
	p := "/" + strings.Repeat("a", MaxContentPathLength-1)
	res, err := Classify("/api"+p, opts())
	require.NoError(t, err)
	assert.Equal(t, p, res.ContentPath)
}

func TestClassifyCustomPrefix(t *testing.T) {
	o := opts()
	o.APIPrefix = "/_data"

	res, err := Classify("/api/about", o)
	require.NoError(t, err)
	assert.Equal(t, NotAPI, res.Kind)

	res, err = Classify("/_data/about", o)
	require.NoError(t, err)
	assert.Equal(t, Content, res.Kind)
	assert.Equal(t, "/about", res.ContentPath)
}
