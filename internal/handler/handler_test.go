package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/authz"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/permission"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/service"
)

var (
	alice = &auth.User{ID: "alice", Role: "submitter", TenantID: "t1"}
	carol = &auth.User{ID: "carol", Role: "approver", TenantID: "t1"}
)

func newServices(t *testing.T) Services {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, u := range []*repository.User{
		{ID: "alice", TenantID: "t1", Role: "submitter", Active: true},
		{ID: "carol", TenantID: "t1", Role: "approver", Active: true},
		{ID: "bob", TenantID: "t1", Role: "reviewer", Active: true},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}

	log := logger.Nop()
	az, err := authz.NewAuthorizer("", "", authz.ModeEnforce)
	require.NoError(t, err)
	caps := service.NewCapabilities(az, log)
	pub := events.Nop{}

	perms := permission.NewResolver(store, time.Second, log)
	layouts, err := layout.NewResolver(store, perms, time.Second, log)
	require.NoError(t, err)

	machine := service.NewApprovalStateMachine(store, store, caps, pub, log)
	return Services{
		Machine:  machine,
		Reviews:  service.NewReviewAggregator(store, caps, pub, log),
		Router:   service.NewForwardingRouter(store, store, caps, pub, log),
		Index:    service.NewActionItemIndex(store, nil),
		Layouts:  layouts,
		Adapters: service.NewAdapterRegistry(service.DefaultAdapters(machine, layouts)...),
	}
}

func createRequest() service.CreateAssignmentRequest {
	return service.CreateAssignmentRequest{
		SourceType:  "assessment_assignment",
		EntityType:  "vendor",
		EntityID:    "vendor-1",
		RequestType: "vendor_onboarding",
		Title:       "Acme security review",
		ApproverID:  "carol",
		Questions: []service.QuestionInput{
			{FieldName: "encryption_at_rest", Required: true},
			{FieldName: "sso"},
		},
	}
}
