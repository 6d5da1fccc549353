package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cuemby/docrepo/internal/apperr"
)

// ObjectDriver is the S3-like object-store storage driver. Each Namespace
// maps to a key prefix within a single bucket; a namespace cannot be given a
// bucket of its own. allowOverwrite=false is synthesized with a conditional PutObject
// (If-None-Match: *), and List paginates ListObjectsV2 under a prefix —
// exactly the capability the teacher's read-only blob cache never needed.
type ObjectDriver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewObjectDriver creates an object-store driver. Credentials, region, and
// endpoint are resolved via the standard AWS SDK default credential chain
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION, AWS_ENDPOINT_URL,
// instance profiles, etc.), matching the teacher's S3Store constructor.
func NewObjectDriver(ctx context.Context, bucket, prefix string, forcePathStyle bool) (*ObjectDriver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}

	return &ObjectDriver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Init creates the bucket if it does not already exist, mirroring the
// teacher's Init step. Document repositories do not expire objects on a
// lifecycle policy (immutable classes are meant to live forever), so unlike
// the teacher's cache this Init carries no lifecycle configuration.
func (d *ObjectDriver) Init(ctx context.Context) error {
	_, err := d.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(d.bucket)})
	if err == nil {
		slog.Debug("bucket created", "bucket", d.bucket)
		return nil
	}

	var baoby *types.BucketAlreadyOwnedByYou
	var bae *types.BucketAlreadyExists
	if errors.As(err, &baoby) || errors.As(err, &bae) {
		slog.Debug("bucket already exists", "bucket", d.bucket)
		return nil
	}
	return fmt.Errorf("creating bucket: %w", err)
}

func (d *ObjectDriver) key(ns Namespace, key string) string {
	return d.prefix + string(ns) + "/" + key + ".bali"
}

func (d *ObjectDriver) Exists(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(ns, key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFoundStatus(err) {
		return false, nil
	}
	return false, NewError("driver/object", "Exists", ns, key, apperr.KindIO, err)
}

func (d *ObjectDriver) Read(ctx context.Context, ns Namespace, key, digest string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(ns, key)),
	})
	if err != nil {
		if isNotFoundStatus(err) {
			return nil, NewError("driver/object", "Read", ns, key, apperr.KindNotFound, err)
		}
		return nil, NewError("driver/object", "Read", ns, key, apperr.KindIO, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NewError("driver/object", "Read", ns, key, apperr.KindIO, err)
	}
	return data, nil
}

func (d *ObjectDriver) Write(ctx context.Context, ns Namespace, key, digest string, data []byte, allowOverwrite bool) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(ns, key)),
		Body:   bytes.NewReader(data),
	}
	if !allowOverwrite {
		input.IfNoneMatch = aws.String("*")
	}
	if digest != "" {
		// Carried as a tagged object field (user metadata), the
		// object-store counterpart to the HTTP driver's nebula-digest
		// header: an integrity hint for whoever reads the object back,
		// not a value this driver itself verifies.
		input.Metadata = map[string]string{"nebula-digest": digest}
	}

	_, err := d.client.PutObject(ctx, input)
	if err != nil {
		if !allowOverwrite && isConditionalPutConflict(err) {
			return NewError("driver/object", "Write", ns, key, apperr.KindConflict, err)
		}
		return NewError("driver/object", "Write", ns, key, apperr.KindIO, err)
	}
	return nil
}

// Delete removes key, reporting whether it existed. For the messages
// namespace this distinction must be a genuine compare-and-swap: the borrow
// loop (facade.BorrowMessage) depends on existed being true for exactly one
// racing caller. S3's DeleteObject has no such primitive — it is
// unconditionally successful even for an already-missing key, and there is
// no ETag-conditional delete to fall back on (unlike PutObject's
// If-None-Match, which Write already uses). A preceding HeadObject does not
// fix this: two concurrent deleters can both observe the object present via
// HeadObject and then both "succeed" at DeleteObject, which would let
// BorrowMessage hand the same message to two borrowers. Rather than fake a
// guarantee this backend cannot provide, message-namespace deletes are
// refused outright so the at-most-once contract is never silently violated;
// non-message namespaces (name/draft/document/contract deletes, none of
// which participate in the borrow race) still get a plain existence-gated
// delete.
func (d *ObjectDriver) Delete(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	if ns == Messages {
		return false, NewError("driver/object", "Delete", ns, key, apperr.KindUnsupportedBackend,
			fmt.Errorf("object store backend has no compare-and-swap delete; message-bag operations are unsupported on this backend"))
	}

	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(ns, key)),
	})
	if err != nil {
		if isNotFoundStatus(err) {
			return false, nil
		}
		return false, NewError("driver/object", "Delete", ns, key, apperr.KindIO, err)
	}

	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(ns, key)),
	})
	if err != nil {
		return false, NewError("driver/object", "Delete", ns, key, apperr.KindIO, err)
	}
	return true, nil
}

func (d *ObjectDriver) List(ctx context.Context, ns Namespace, prefix string, maxKeys int) ([]string, error) {
	fullPrefix := d.prefix + string(ns) + "/" + prefix + "/"

	var keys []string
	var token *string
	for {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(d.bucket),
			Prefix: aws.String(fullPrefix),
		}
		if token != nil {
			input.ContinuationToken = token
		}
		if maxKeys > 0 {
			input.MaxKeys = aws.Int32(int32(maxKeys))
		}

		out, err := d.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, NewError("driver/object", "List", ns, prefix, apperr.KindIO, err)
		}

		for _, obj := range out.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), fullPrefix)
			rel = strings.TrimSuffix(rel, ".bali")
			if rel != "" {
				keys = append(keys, rel)
			}
			if maxKeys > 0 && len(keys) >= maxKeys {
				return keys, nil
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// isConditionalPutConflict returns true when the S3 PutObject error
// indicates the object already exists (412 Precondition Failed or 409
// Conflict), matching the teacher's isConditionalPutConflict exactly.
func isConditionalPutConflict(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == http.StatusPreconditionFailed ||
			re.HTTPStatusCode() == http.StatusConflict
	}
	return false
}

func isNotFoundStatus(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	return errors.As(err, &nsk) || errors.As(err, &nsb)
}
