package endpoints

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/stretchr/testify/require"
)

func TestCatalogDeclaresEveryOperation(t *testing.T) {
	want := map[string]struct {
		kind   Kind
		method string
		path   string
		tags   []Tag
	}{
		"getAllCategories":      {KindQuery, http.MethodGet, "/categories", []Tag{TagCategory}},
		"createCategory":        {KindMutation, http.MethodPost, "/categories", []Tag{TagCategory}},
		"updateCategory":        {KindMutation, http.MethodPatch, "/category/{{ seg .ID }}", []Tag{TagCategory}},
		"deleteCategory":        {KindMutation, http.MethodDelete, "/category/{{ seg .ID }}", []Tag{TagCategory}},
		"getAllAppointments":    {KindQuery, http.MethodGet, "/admin/appointments", nil},
		"getAllOurProjects":     {KindQuery, http.MethodGet, "/previousproject", nil},
		"createPreviousProject": {KindMutation, http.MethodPost, "/previousproject", nil},
		"updatePreviousProject": {KindMutation, http.MethodPatch, "/previousproject/{{ seg .ID }}", nil},
		"deletePreviousProject": {KindMutation, http.MethodDelete, "/previousproject/{{ seg .ID }}", nil},
		"getAllUsers":           {KindQuery, http.MethodGet, "/admin/users", nil},
		"userStatusUpdate":      {KindMutation, http.MethodPatch, "/user", nil},
		"createArtisans":        {KindMutation, http.MethodPost, "/admin/artisan", nil},
		"userById":              {KindQuery, http.MethodGet, "/user/profile/{{ seg .ID }}", nil},
		"generalStats":          {KindQuery, http.MethodGet, "/analytics/overview", []Tag{TagAdminData}},
		"projectStatusFunnel":   {KindQuery, http.MethodGet, "/analytics/project-status", []Tag{TagAdminData}},
		"recentProject":         {KindQuery, http.MethodGet, "/analytics/recent-project", []Tag{TagAdminData}},
		"vendorsConversionData": {KindQuery, http.MethodGet, "/dashboard/vendor-order-conversion-rate", []Tag{TagAdminData}},
	}

	catalog := Catalog()
	require.Len(t, catalog, len(want))
	for _, def := range catalog {
		expected, ok := want[def.Name]
		require.True(t, ok, "unexpected endpoint %s", def.Name)
		require.Equal(t, expected.kind, def.Kind, def.Name)
		require.Equal(t, expected.method, def.Method, def.Name)
		require.Equal(t, expected.path, def.Path.Source(), def.Name)
		if len(expected.tags) == 0 {
			require.Empty(t, def.Tags(), def.Name)
		} else {
			require.Equal(t, expected.tags, def.Tags(), def.Name)
		}
	}
}

func TestTagProviders(t *testing.T) {
	// AdminData has no invalidating mutation in the dashboard; Category does.
	var invalidated []Tag
	for _, def := range Catalog() {
		if def.Kind == KindMutation {
			invalidated = append(invalidated, def.Invalidates...)
		}
	}
	require.Contains(t, invalidated, TagCategory)
	require.Len(t, ProvidersOf(TagCategory), 1)
	require.Len(t, ProvidersOf(TagAdminData), 4)
}

func TestLookup(t *testing.T) {
	def, ok := Lookup("recentProject")
	require.True(t, ok)
	require.True(t, def.NoArg)
	require.Equal(t, []Tag{TagAdminData}, def.Provides)

	_, ok = Lookup("totalEstimates")
	require.False(t, ok)
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("Category")
	require.NoError(t, err)
	require.Equal(t, TagCategory, tag)

	tag, err = ParseTag("admindata")
	require.NoError(t, err)
	require.Equal(t, TagAdminData, tag)

	_, err = ParseTag("Subcategory")
	require.Error(t, err)

	require.Equal(t, []string{"Category", "AdminData"}, TagNames(AllTags()))
	require.Equal(t, "Tag(9)", Tag(9).String())
	require.False(t, Tag(9).Valid())
}

func TestCreateCategoryBuildsMultipart(t *testing.T) {
	req, err := CreateCategory.Request(CategoryInput{
		Name:  "Tiles",
		Image: &httpclient.File{Filename: "tiles.png", ContentType: "image/png", Content: []byte("png")},
	})
	require.NoError(t, err)
	require.Equal(t, "createCategory", req.Endpoint)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/categories", req.Path)

	body, ok := req.Body.(httpclient.MultipartBody)
	require.True(t, ok)
	require.Equal(t, []httpclient.Field{{Name: "name", Value: "Tiles"}}, body.Fields)
	require.Len(t, body.Files, 1)
	require.Equal(t, "image", body.Files[0].Field)
}

func TestCreateCategoryWithoutImage(t *testing.T) {
	req, err := CreateCategory.Request(CategoryInput{Name: "Flooring"})
	require.NoError(t, err)
	body := req.Body.(httpclient.MultipartBody)
	require.Empty(t, body.Files)
}

func TestUpdateCategoryEscapesID(t *testing.T) {
	req, err := UpdateCategory.Request(CategoryUpdate{ID: "c 1/x", Name: "Tiles"})
	require.NoError(t, err)
	require.Equal(t, "/category/c%201%2Fx", req.Path)
	require.Equal(t, http.MethodPatch, req.Method)
}

func TestValidationNeverProducesRequest(t *testing.T) {
	tests := []struct {
		name  string
		build func() (httpclient.Request, error)
		field string
	}{
		{name: "create without name", build: func() (httpclient.Request, error) {
			return CreateCategory.Request(CategoryInput{Name: "  "})
		}, field: "name"},
		{name: "update without id", build: func() (httpclient.Request, error) {
			return UpdateCategory.Request(CategoryUpdate{Name: "Tiles"})
		}, field: "id"},
		{name: "delete without id", build: func() (httpclient.Request, error) {
			return DeleteCategory.Request("")
		}, field: "id"},
		{name: "status without status", build: func() (httpclient.Request, error) {
			return UserStatusUpdate.Request(UserStatus{ID: "u1"})
		}, field: "status"},
		{name: "profile without id", build: func() (httpclient.Request, error) {
			return UserByID.Request("")
		}, field: "id"},
		{name: "project update without id", build: func() (httpclient.Request, error) {
			return UpdatePreviousProject.Request(PreviousProjectUpdate{Fields: Document{"title": "x"}})
		}, field: "id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			var vErr *httpclient.ValidationError
			require.True(t, errors.As(err, &vErr))
			require.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestListParamsMapping(t *testing.T) {
	params := ListParams{{Name: "role", Value: "artisan"}, {Name: "role", Value: "client"}, {Name: "page", Value: "2"}}

	users, err := GetAllUsers.Request(params)
	require.NoError(t, err)
	require.Equal(t, url.Values{"role": {"artisan", "client"}, "page": {"2"}}, users.Query)

	appointments, err := GetAllAppointments.Request(params)
	require.NoError(t, err)
	require.Equal(t, url.Values{"role": {"client"}, "page": {"2"}}, appointments.Query)

	empty, err := GetAllOurProjects.Request(nil)
	require.NoError(t, err)
	require.Nil(t, empty.Query)
}

func TestUserStatusUpdateBody(t *testing.T) {
	req, err := UserStatusUpdate.Request(UserStatus{ID: "u1", Status: "blocked"})
	require.NoError(t, err)
	require.Equal(t, "/user", req.Path)
	require.Equal(t, httpclient.JSONBody{Value: UserStatus{ID: "u1", Status: "blocked"}}, req.Body)
}

func TestPreviousProjectBodies(t *testing.T) {
	create, err := CreatePreviousProject.Request(nil)
	require.NoError(t, err)
	require.Equal(t, httpclient.JSONBody{Value: Document{}}, create.Body)

	update, err := UpdatePreviousProject.Request(PreviousProjectUpdate{ID: "p1", Fields: Document{"title": "Kitchen"}})
	require.NoError(t, err)
	require.Equal(t, "/previousproject/p1", update.Path)
	require.Equal(t, httpclient.JSONBody{Value: Document{"title": "Kitchen"}}, update.Body)

	del, err := DeletePreviousProject.Request("p1")
	require.NoError(t, err)
	require.Nil(t, del.Body)
	require.Equal(t, http.MethodDelete, del.Method)
}

func TestNoArgQueries(t *testing.T) {
	for _, q := range []interface {
		Request(NoArg) (httpclient.Request, error)
		Definition() Definition
	}{GetAllCategories, GeneralStats, ProjectStatusFunnel, RecentProjects, VendorsConversionData} {
		req, err := q.Request(NoArg{})
		require.NoError(t, err)
		require.Equal(t, q.Definition().Path.Source(), req.Path)
		require.Nil(t, req.Body)
	}
}

func TestNoArgMarshalsAsNull(t *testing.T) {
	raw, err := NoArg{}.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))
}
