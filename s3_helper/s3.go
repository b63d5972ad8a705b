package s3_helper

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/partitioner"
	"github.com/danthegoodman1/usedcars/scraper"
	"github.com/danthegoodman1/usedcars/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewComponentLogger("s3")
)

// PageArchiver uploads raw scraped pages under partitioned keys. It satisfies scraper.Archiver.
type PageArchiver struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	plan     []partitioner.PartitionPlan
}

// NewSession builds an AWS session from the AWS_* and S3_ENDPOINT env vars.
func NewSession() (*session.Session, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return s3Session, nil
}

func NewPageArchiver(uploader s3manageriface.UploaderAPI, bucket, prefix string) *PageArchiver {
	return &PageArchiver{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		plan:     partitioner.ArchivePlan,
	}
}

// NewPageArchiverFromEnv uploads to S3_BUCKET_NAME under "raw/".
func NewPageArchiverFromEnv() (*PageArchiver, error) {
	sess, err := NewSession()
	if err != nil {
		return nil, err
	}
	return NewPageArchiver(s3manager.NewUploader(sess), utils.S3_BUCKET_NAME, "raw"), nil
}

// ObjectKey is <prefix>/site=<id>/y=<yyyy>/m=<mm>/d=<dd>/<fetch unix ms>_<short id><ext>.
func (a *PageArchiver) ObjectKey(siteID int64, page *scraper.Page) (string, error) {
	part, err := partitioner.GetRowPartition(map[string]any{
		"site_id":    siteID,
		"fetched_at": page.FetchedAt,
	}, a.plan)
	if err != nil {
		return "", fmt.Errorf("error in GetRowPartition: %w", err)
	}
	name := fmt.Sprintf("%d_%s%s", page.FetchedAt.UnixMilli(), utils.GenRandomShortID(), extension(page.ContentType))
	return path.Join(a.prefix, part, name), nil
}

func extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mt {
	case "application/json":
		return ".json"
	case "text/html":
		return ".html"
	case "text/plain":
		return ".txt"
	}
	return ".bin"
}

func (a *PageArchiver) Archive(ctx context.Context, siteID int64, page *scraper.Page) (string, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	key, err := a.ObjectKey(siteID, page)
	if err != nil {
		return "", err
	}
	input := &s3manager.UploadInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(page.Body),
		Metadata: map[string]*string{"source-url": aws.String(page.URL)},
	}
	if page.ContentType != "" {
		input.ContentType = aws.String(page.ContentType)
	}

	s := time.Now()
	if _, err := a.uploader.UploadWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("fileName", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")
	return key, nil
}
