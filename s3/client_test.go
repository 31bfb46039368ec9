package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

type fakePutter struct {
	failures int
	err      error
	calls    int
	lastKey  string
	lastBody string
	lastType string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.lastKey = aws.ToString(in.Key)
	f.lastBody = string(body)
	f.lastType = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func testClient(p putter, prefix string, retries uint64) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Client{s3Client: p, bucket: "exports", prefix: prefix, maxRetries: retries, logger: logger}
}

func TestValidateS3Key(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"holiday_webp.webp", false},
		{"batch/holiday_webp.webp", false},
		{"", true},
		{"../etc/passwd", true},
		{"/absolute.png", true},
		{"nul\x00.png", true},
		{strings.Repeat("a", 1025), true},
	}
	for _, tt := range tests {
		err := validateS3Key(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateS3Key(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestKey(t *testing.T) {
	if got := testClient(nil, "", 0).Key("a.png"); got != "a.png" {
		t.Errorf("Key = %q", got)
	}
	if got := testClient(nil, "runs/1", 0).Key("a.png"); got != "runs/1/a.png" {
		t.Errorf("Key = %q", got)
	}
}

func TestPutRetriesTransientFailures(t *testing.T) {
	p := &fakePutter{failures: 2, err: errors.New("503 slow down")}
	c := testClient(p, "out", 3)

	loc, err := c.Put(context.Background(), "scan_webp.webp", strings.NewReader("pixels"), 6)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc != "s3://exports/out/scan_webp.webp" {
		t.Errorf("location = %q", loc)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d", p.calls)
	}
	if p.lastBody != "pixels" || p.lastType != "image/webp" {
		t.Errorf("body/type = %q/%q", p.lastBody, p.lastType)
	}
}

func TestPutGivesUp(t *testing.T) {
	p := &fakePutter{failures: 100, err: errors.New("access denied")}
	c := testClient(p, "", 1)

	_, err := c.Put(context.Background(), "a.png", strings.NewReader("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v", err)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
}

func TestPutRejectsBadKey(t *testing.T) {
	p := &fakePutter{}
	c := testClient(p, "", 0)
	if _, err := c.Put(context.Background(), "../x.png", strings.NewReader("x"), 1); err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 0 {
		t.Fatalf("PutObject called for invalid key")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.webp": "image/webp",
		"a.JPG":  "image/jpeg",
		"a.png":  "image/png",
		"a.bin":  "application/octet-stream",
	}
	for name, want := range tests {
		if got := contentType(name); got != want {
			t.Errorf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}

// isolateAWSEnv points the SDK at a credentials file holding one default
// profile and clears every other credential source.
func isolateAWSEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials")
	data := "[default]\naws_access_key_id = AKIDFROMFILE\naws_secret_access_key = secret\n"
	if err := os.WriteFile(creds, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	conf := filepath.Join(dir, "config")
	if err := os.WriteFile(conf, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN",
		"AWS_PROFILE", "AWS_DEFAULT_PROFILE", "AWS_ROLE_ARN", "AWS_WEB_IDENTITY_TOKEN_FILE",
		"AWS_CONTAINER_CREDENTIALS_RELATIVE_URI", "AWS_CONTAINER_CREDENTIALS_FULL_URI",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", creds)
	t.Setenv("AWS_CONFIG_FILE", conf)
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

func TestLoadAWSConfigUsesCredentialChain(t *testing.T) {
	isolateAWSEnv(t)
	ctx := context.Background()

	awsCfg, err := loadAWSConfig(ctx, Config{Region: "eu-west-1"})
	if err != nil {
		t.Fatal(err)
	}
	if awsCfg.Region != "eu-west-1" {
		t.Errorf("region = %q", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if creds.AccessKeyID != "AKIDFROMFILE" {
		t.Errorf("access key = %q, want the shared credentials file's", creds.AccessKeyID)
	}
}

func TestLoadAWSConfigAnonymous(t *testing.T) {
	isolateAWSEnv(t)
	ctx := context.Background()

	awsCfg, err := loadAWSConfig(ctx, Config{Region: "us-east-1", Anonymous: true})
	if err != nil {
		t.Fatal(err)
	}
	if creds, _ := awsCfg.Credentials.Retrieve(ctx); creds.AccessKeyID != "" {
		t.Errorf("anonymous config resolved access key %q", creds.AccessKeyID)
	}
}
