package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
)

const maxUpload = 32 << 20

// form is a request body read either as multipart/form-data or as a JSON
// object. JSON nulls are kept as present-but-null so callers can clear
// optional fields.
type form struct {
	values map[string]*string
	files  map[string]*multipart.FileHeader
}

func readForm(r *http.Request) (*form, error) {
	f := &form{values: make(map[string]*string), files: make(map[string]*multipart.FileHeader)}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, fmt.Errorf("failed to parse multipart body: %w", err)
		}
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				v := vs[0]
				f.values[k] = &v
			}
		}
		for k, fhs := range r.MultipartForm.File {
			if len(fhs) > 0 {
				f.files[k] = fhs[0]
			}
		}
	case "application/json":
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode body: %w", err)
		}
		for k, v := range raw {
			switch v := v.(type) {
			case nil:
				f.values[k] = nil
			case string:
				f.values[k] = &v
			default:
				s := fmt.Sprint(v)
				f.values[k] = &s
			}
		}
	case "":
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
	return f, nil
}

// get returns the value of key and whether the key was sent at all.
func (f *form) get(key string) (*string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *form) str(key string) string {
	if v := f.values[key]; v != nil {
		return *v
	}
	return ""
}

func (f *form) file(key string) ([]byte, *multipart.FileHeader, error) {
	fh, ok := f.files[key]
	if !ok {
		return nil, nil, nil
	}
	src, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, fh, nil
}
