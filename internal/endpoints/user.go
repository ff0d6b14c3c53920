package endpoints

import (
	"encoding/json"
	"strings"

	"github.com/l0p7/admindata/internal/httpclient"
)

// UserStatus changes one user's account status.
type UserStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

var (
	// GetAllUsers keeps repeated filter names, e.g. role=artisan&role=client.
	GetAllUsers = query[ListParams, json.RawMessage]("getAllUsers", "GET", "/admin/users", nil,
		func(params ListParams) (binding, error) {
			return binding{Query: params.Append()}, nil
		})

	UserStatusUpdate = mutation[UserStatus, json.RawMessage]("userStatusUpdate", "PATCH", "/user", nil,
		func(in UserStatus) (binding, error) {
			if strings.TrimSpace(in.ID) == "" {
				return binding{}, httpclient.Validation("id", "required")
			}
			if strings.TrimSpace(in.Status) == "" {
				return binding{}, httpclient.Validation("status", "required")
			}
			return binding{Body: httpclient.JSONBody{Value: in}}, nil
		})

	CreateArtisans = mutation[Document, json.RawMessage]("createArtisans", "POST", "/admin/artisan", nil,
		func(doc Document) (binding, error) {
			return binding{Body: httpclient.JSONBody{Value: documentOrEmpty(doc)}}, nil
		})

	UserByID = query[ID, json.RawMessage]("userById", "GET", "/user/profile/{{ seg .ID }}", nil,
		func(id ID) (binding, error) {
			path, err := requireID(string(id))
			if err != nil {
				return binding{}, err
			}
			return binding{PathData: path}, nil
		})
)
