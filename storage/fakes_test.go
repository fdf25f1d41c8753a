package storage

import (
	"context"
	"fmt"
	"sync"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type verifyCall struct {
	bucket string
	key    string
	size   int64
}

type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls []verifyCall
}

func (v *fakeVerifier) Verify(_ context.Context, bucket, key string, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, verifyCall{bucket: bucket, key: key, size: size})
	return v.err
}

type fakePathChecker struct {
	existing map[string]bool
	checked  []string
}

func (c *fakePathChecker) IsPathExists(pth string) (bool, error) {
	c.checked = append(c.checked, pth)
	return c.existing[pth], nil
}

func (c *fakePathChecker) IsDirExists(pth string) (bool, error) {
	return false, nil
}
