package pluginapi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/pluginapi"
)

type stubLinkFilter struct {
	name   string
	verdict pluginapi.LinkVerdict
}

func (s stubLinkFilter) Name() string { return s.name }
func (s stubLinkFilter) FilterLink(ctx context.Context, linkURL, parentURL string, depth int) pluginapi.LinkVerdict {
	return s.verdict
}

type stubExportPlugin struct {
	name string
	err  error
	got  *pluginapi.ExportResult
}

func (s *stubExportPlugin) Name() string { return s.name }
func (s *stubExportPlugin) Export(ctx context.Context, result pluginapi.ExportResult) error {
	s.got = &result
	return s.err
}

func TestRegistry_RegisterLinkFilterRejectsDuplicateName(t *testing.T) {
	r := pluginapi.NewRegistry()
	require.NoError(t, r.RegisterLinkFilter(stubLinkFilter{name: "a"}))
	err := r.RegisterLinkFilter(stubLinkFilter{name: "a"})
	assert.Error(t, err)
}

func TestRegistry_RegisterLinkFilterRejectsNilAndEmptyName(t *testing.T) {
	r := pluginapi.NewRegistry()
	assert.Error(t, r.RegisterLinkFilter(nil))
	assert.Error(t, r.RegisterLinkFilter(stubLinkFilter{name: ""}))
}

func TestRegistry_FilterLink_AnyVetoWinsAndDeltasAccumulate(t *testing.T) {
	r := pluginapi.NewRegistry()
	require.NoError(t, r.RegisterLinkFilter(stubLinkFilter{name: "boost", verdict: pluginapi.LinkVerdict{PriorityDelta: 2}}))
	require.NoError(t, r.RegisterLinkFilter(stubLinkFilter{name: "veto", verdict: pluginapi.LinkVerdict{Veto: true, PriorityDelta: -1}}))

	v := r.FilterLink(context.Background(), "https://example.com/x", "https://example.com/", 1)
	assert.True(t, v.Veto)
	assert.Equal(t, 1.0, v.PriorityDelta)
}

func TestRegistry_FilterLink_NoPluginsReturnsZeroVerdict(t *testing.T) {
	r := pluginapi.NewRegistry()
	v := r.FilterLink(context.Background(), "https://example.com/x", "https://example.com/", 1)
	assert.False(t, v.Veto)
	assert.Zero(t, v.PriorityDelta)
}

func TestRegistry_ListLinkFiltersReturnsSortedNames(t *testing.T) {
	r := pluginapi.NewRegistry()
	require.NoError(t, r.RegisterLinkFilter(stubLinkFilter{name: "zeta"}))
	require.NoError(t, r.RegisterLinkFilter(stubLinkFilter{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, r.ListLinkFilters())
}

func TestRegistry_Export_CollectsErrorsWithoutStoppingOthers(t *testing.T) {
	r := pluginapi.NewRegistry()
	failing := &stubExportPlugin{name: "failing", err: errors.New("sink unreachable")}
	succeeding := &stubExportPlugin{name: "succeeding"}
	require.NoError(t, r.RegisterExportPlugin(failing))
	require.NoError(t, r.RegisterExportPlugin(succeeding))

	result := pluginapi.ExportResult{URL: "https://example.com/page", StatusCode: 200}
	errs := r.Export(context.Background(), result)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failing")
	require.NotNil(t, succeeding.got)
	assert.Equal(t, "https://example.com/page", succeeding.got.URL)
}

func TestRegistry_ListExportPluginsReturnsSortedNames(t *testing.T) {
	r := pluginapi.NewRegistry()
	require.NoError(t, r.RegisterExportPlugin(&stubExportPlugin{name: "zeta"}))
	require.NoError(t, r.RegisterExportPlugin(&stubExportPlugin{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, r.ListExportPlugins())
}
