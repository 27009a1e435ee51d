package params_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenantops/lab-lifecycle/internal/params"
)

func TestMemoryResolver(t *testing.T) {
	r := params.NewMemoryResolver()
	r.Set("/tenantOps/app-lab/tenant-url", "https://tenant.example.com")
	r.Set("/tenantOps/app-lab/token-value", "s3cret")

	values, err := r.Resolve(context.Background(), []string{
		"/tenantOps/app-lab/tenant-url",
		"/tenantOps/app-lab/token-value",
	})
	assert.NoError(t, err)
	assert.Equal(t, "https://tenant.example.com", values["tenant-url"])
	assert.Equal(t, "s3cret", values["token-value"])
}

func TestMemoryResolverMissing(t *testing.T) {
	r := params.NewMemoryResolver()
	r.Set("/tenantOps/app-lab/tenant-url", "https://tenant.example.com")

	_, err := r.Resolve(context.Background(), []string{
		"/tenantOps/app-lab/tenant-url",
		"/tenantOps/app-lab/token-value",
	})
	assert.Error(t, err)

	var cerr *params.ConfigError
	assert.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"/tenantOps/app-lab/token-value"}, cerr.Missing)
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "tenant-url", params.LastSegment("/tenantOps/app-lab/tenant-url"))
	assert.Equal(t, "plain", params.LastSegment("plain"))
}
