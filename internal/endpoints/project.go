package endpoints

import (
	"encoding/json"

	"github.com/l0p7/admindata/internal/httpclient"
)

// Document is a free-form JSON object relayed to the backend as-is.
type Document map[string]any

// PreviousProjectUpdate edits a showcased project; Fields is the JSON body.
type PreviousProjectUpdate struct {
	ID     string
	Fields Document
}

// Showcased ("previous") projects provide no tag, so these mutations leave
// the cache untouched.
var (
	GetAllOurProjects = query[ListParams, json.RawMessage]("getAllOurProjects", "GET", "/previousproject", nil,
		func(params ListParams) (binding, error) {
			return binding{Query: params.Set()}, nil
		})

	CreatePreviousProject = mutation[Document, json.RawMessage]("createPreviousProject", "POST", "/previousproject", nil,
		func(doc Document) (binding, error) {
			return binding{Body: httpclient.JSONBody{Value: documentOrEmpty(doc)}}, nil
		})

	UpdatePreviousProject = mutation[PreviousProjectUpdate, json.RawMessage]("updatePreviousProject", "PATCH", "/previousproject/{{ seg .ID }}", nil,
		func(in PreviousProjectUpdate) (binding, error) {
			path, err := requireID(in.ID)
			if err != nil {
				return binding{}, err
			}
			return binding{PathData: path, Body: httpclient.JSONBody{Value: documentOrEmpty(in.Fields)}}, nil
		})

	DeletePreviousProject = mutation[ID, json.RawMessage]("deletePreviousProject", "DELETE", "/previousproject/{{ seg .ID }}", nil,
		func(id ID) (binding, error) {
			path, err := requireID(string(id))
			if err != nil {
				return binding{}, err
			}
			return binding{PathData: path}, nil
		})
)

func documentOrEmpty(doc Document) Document {
	if doc == nil {
		return Document{}
	}
	return doc
}
