package mailing

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// Template is one catalog entry. Every part is Liquid source.
type Template struct {
	Subject string `yaml:"subject" json:"subject"`
	HTML    string `yaml:"html" json:"html"`
	Text    string `yaml:"text" json:"text,omitempty"`
}

// Catalog maps template ids to templates.
type Catalog map[string]Template

type catalogFile struct {
	Templates Catalog `yaml:"templates"`
}

// ParseCatalog decodes a YAML catalog:
//
//	templates:
//	  welcome:
//	    subject: "Welcome, {{ user_name }}!"
//	    html: "<p>...</p>"
func ParseCatalog(data []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	if f.Templates == nil {
		f.Templates = Catalog{}
	}
	for id, t := range f.Templates {
		if t.Subject == "" || t.HTML == "" {
			return nil, fmt.Errorf("template %q: subject and html are required", id)
		}
	}
	return f.Templates, nil
}

// Validate parses every template part so syntax errors surface at startup
// rather than on the first send.
func (ts *TemplateService) Validate() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.validate(ts.templates)
}

func (ts *TemplateService) validate(c Catalog) error {
	for id, t := range c {
		for part, src := range map[string]string{"subject": t.Subject, "html": t.HTML, "text": t.Text} {
			if src == "" {
				continue
			}
			if err := ts.Parse(src); err != nil {
				return fmt.Errorf("template %s %s: %w", id, part, err)
			}
		}
	}
	return nil
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ObjectGetter is the part of the S3 client the catalog loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// LoadCatalogFromS3 reads a catalog object from S3.
func LoadCatalogFromS3(ctx context.Context, client ObjectGetter, bucket, key string) (Catalog, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	log.Info("template catalog loaded from s3", "bucket", bucket, "key", key, "templates", len(c))
	return c, nil
}
