package integrations_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"allocplan/internal/integrations"
	"allocplan/internal/integrations/csvsource"
	"allocplan/internal/model"
	"allocplan/internal/store"
)

const catalogCSV = `City_ID,city_name,classification,node_id,node_name,active
nyc,New York,a,nyc-1,Queens lab,
nyc,,,nyc-2,Bronx lab,
den,Denver,B,den-1,Denver lab,yes
,,,,,
boi,Boise,Q,boi-1,,
sea,Seattle,,,,maybe
`

func TestParseRows(t *testing.T) {
	rows, err := csvsource.Source{}.ReadRows(strings.NewReader(catalogCSV))
	require.NoError(t, err)
	cat, rowErrs, err := integrations.ParseRows(rows)
	require.NoError(t, err)

	require.Len(t, cat.Cities, 2)
	require.Equal(t, model.CityInput{ID: "nyc", Name: "New York", Classification: model.ClassA}, cat.Cities[0])
	require.Equal(t, "den", cat.Cities[1].ID)
	require.True(t, *cat.Cities[1].Active)
	require.Len(t, cat.Nodes, 3)
	require.Equal(t, "nyc", cat.Nodes[1].CityID)

	require.Equal(t, []integrations.RowError{
		{Row: 6, Reason: `invalid classification "Q"`},
		{Row: 7, Reason: `invalid active value "maybe"`},
	}, rowErrs)
}

func TestParseRowsNeedsCityColumn(t *testing.T) {
	_, _, err := integrations.ParseRows([][]string{{"name"}})
	require.Error(t, err)
	_, _, err = integrations.ParseRows(nil)
	require.Error(t, err)
}

func TestImportUpsertsIntoStore(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	res, err := integrations.Import(ctx, m, csvsource.Source{}, "t1", strings.NewReader(catalogCSV))
	require.NoError(t, err)
	require.Equal(t, "csv", res.Source)
	require.Equal(t, 2, res.Cities)
	require.Equal(t, 3, res.Nodes)
	require.Len(t, res.Errors, 2)

	cities, _ := m.ListCities(ctx, "t1")
	require.Len(t, cities, 2)
	nodes, _ := m.ListNodes(ctx, "t1")
	require.Len(t, nodes, 3)

	// a second tenant cannot claim the same city ids
	_, err = integrations.Import(ctx, m, csvsource.Source{}, "t2", strings.NewReader(catalogCSV))
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestImportReportsRowsAppliedBeforeStoreFailure(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.UpsertCity(ctx, "t1", model.CityInput{ID: "den", Name: "Denver"})
	require.NoError(t, err)

	// nyc is new for t2, den belongs to t1
	res, err := integrations.Import(ctx, m, csvsource.Source{}, "t2", strings.NewReader(catalogCSV))
	require.ErrorIs(t, err, store.ErrConflict)
	require.Equal(t, 1, res.Cities)
	require.Equal(t, 0, res.Nodes)

	cities, _ := m.ListCities(ctx, "t2")
	require.Len(t, cities, 1)
	require.Equal(t, "nyc", cities[0].ID)
}

func TestImportRejectsUnreadableCatalog(t *testing.T) {
	_, err := integrations.Import(context.Background(), store.NewMemory(), csvsource.Source{}, "t1", strings.NewReader("name\nx\n"))
	require.ErrorIs(t, err, integrations.ErrBadCatalog)
	_, err = integrations.Import(context.Background(), store.NewMemory(), csvsource.Source{}, "t1", strings.NewReader("city_id\n\"unterminated\n"))
	require.ErrorIs(t, err, integrations.ErrBadCatalog)
}
