package httpclient

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// FileUpload represents a file to be uploaded in a multipart request.
type FileUpload struct {
	// FieldName is the form field name for the file.
	//
	// Example: "document", "avatar", "attachment"
	FieldName string

	// FileName is the name of the file as it appears in the upload.
	//
	// Example: "report.pdf", "profile.jpg"
	FileName string

	// Reader provides the file content. Uploads added with File are opened
	// lazily when the body is encoded.
	Reader io.Reader

	path string
}

// MultipartBody is a multipart/form-data payload.
//
// It is passed to the transport as-is; the pipeline only fills in the
// Content-Type (with boundary) when the caller has not set one.
//
// Example:
//
//	body := httpclient.NewMultipartBody().
//	    Field("title", "Q4 Report").
//	    File("document", "/path/to/report.pdf")
//
//	resp, err := client.Post(ctx, "/upload", body)
type MultipartBody struct {
	fields []Param
	files  []FileUpload
}

// NewMultipartBody creates an empty multipart payload.
func NewMultipartBody() *MultipartBody {
	return &MultipartBody{}
}

// Field adds a form field. Fields are written in the order they are added.
func (m *MultipartBody) Field(key, value string) *MultipartBody {
	m.fields = append(m.fields, Param{Key: key, Value: value})
	return m
}

// File adds a file upload read from filePath when the body is encoded.
func (m *MultipartBody) File(fieldName, filePath string) *MultipartBody {
	m.files = append(m.files, FileUpload{
		FieldName: fieldName,
		FileName:  filepath.Base(filePath),
		path:      filePath,
	})
	return m
}

// FileReader adds a file upload read from reader.
//
// Example:
//
//	body := httpclient.NewMultipartBody().
//	    FileReader("avatar", "profile.png", bytes.NewReader(imageBytes))
func (m *MultipartBody) FileReader(fieldName, fileName string, reader io.Reader) *MultipartBody {
	m.files = append(m.files, FileUpload{
		FieldName: fieldName,
		FileName:  fileName,
		Reader:    reader,
	})
	return m
}

// encode renders the payload and returns it with its content type.
func (m *MultipartBody) encode() ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range m.fields {
		if err := writer.WriteField(f.Key, f.Value.(string)); err != nil {
			return nil, "", err
		}
	}

	for _, file := range m.files {
		if err := writeFilePart(writer, file); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, file FileUpload) error {
	reader := file.Reader
	if file.path != "" {
		f, err := os.Open(file.path)
		if err != nil {
			return err
		}
		defer f.Close()
		reader = f
	}

	part, err := writer.CreateFormFile(file.FieldName, file.FileName)
	if err != nil {
		return err
	}

	if reader == nil {
		return nil
	}

	_, err = io.Copy(part, reader)
	return err
}
