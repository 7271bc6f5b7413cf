package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dxcp/dxcp/internal/domain"
)

func TestMergePublishersDedupesByID(t *testing.T) {
	existing := []domain.CIPublisher{
		{ID: "gha", Issuer: "https://token.actions.githubusercontent.com"},
		{ID: "gitlab", Issuer: "https://gitlab.example.com"},
	}
	incoming := []domain.CIPublisher{
		{ID: "gha", Issuer: "https://token.actions.githubusercontent.com", Subject: "repo:org/repo:ref:refs/heads/main"},
		{ID: "jenkins", Issuer: "https://jenkins.internal"},
	}

	merged := mergePublishers(existing, incoming)

	assert.Len(t, merged, 3)
	assert.Equal(t, "gha", merged[0].ID)
	assert.Equal(t, "repo:org/repo:ref:refs/heads/main", merged[0].Subject, "incoming entry should win over existing for a shared id")
	assert.Equal(t, "gitlab", merged[1].ID)
	assert.Equal(t, "jenkins", merged[2].ID)
}

func TestMergePublishersEmptyExisting(t *testing.T) {
	incoming := []domain.CIPublisher{{ID: "gha"}}
	merged := mergePublishers(nil, incoming)
	assert.Equal(t, incoming, merged)
}
