package endpoints

import (
	"encoding/json"
	"strings"

	"github.com/l0p7/admindata/internal/httpclient"
)

// Category is one service category as the backend returns it.
type Category struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CategoryInput creates a category. Image is optional.
type CategoryInput struct {
	Name  string
	Image *httpclient.File
}

// CategoryUpdate edits a category. Image is sent only when a new file was
// chosen; nil keeps the current image.
type CategoryUpdate struct {
	ID    string
	Name  string
	Image *httpclient.File
}

var (
	GetAllCategories = noArgQuery[[]Category]("getAllCategories", "/categories", []Tag{TagCategory})

	CreateCategory = mutation[CategoryInput, Category]("createCategory", "POST", "/categories",
		[]Tag{TagCategory}, func(in CategoryInput) (binding, error) {
			body, err := categoryForm(in.Name, in.Image)
			if err != nil {
				return binding{}, err
			}
			return binding{Body: body}, nil
		})

	UpdateCategory = mutation[CategoryUpdate, Category]("updateCategory", "PATCH", "/category/{{ seg .ID }}",
		[]Tag{TagCategory}, func(in CategoryUpdate) (binding, error) {
			path, err := requireID(in.ID)
			if err != nil {
				return binding{}, err
			}
			body, err := categoryForm(in.Name, in.Image)
			if err != nil {
				return binding{}, err
			}
			return binding{PathData: path, Body: body}, nil
		})

	DeleteCategory = mutation[ID, json.RawMessage]("deleteCategory", "DELETE", "/category/{{ seg .ID }}",
		[]Tag{TagCategory}, func(id ID) (binding, error) {
			path, err := requireID(string(id))
			if err != nil {
				return binding{}, err
			}
			return binding{PathData: path}, nil
		})
)

func categoryForm(name string, image *httpclient.File) (httpclient.MultipartBody, error) {
	if strings.TrimSpace(name) == "" {
		return httpclient.MultipartBody{}, httpclient.Validation("name", "required")
	}
	body := httpclient.MultipartBody{Fields: []httpclient.Field{{Name: "name", Value: name}}}
	if image != nil {
		file := *image
		if file.Field == "" {
			file.Field = "image"
		}
		body.Files = append(body.Files, file)
	}
	return body, nil
}
