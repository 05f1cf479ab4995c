package handler

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/service"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "govworkflow.v1.ApprovalService"

// CurrentDecisionTrailer carries the applied decision on a decide conflict.
const CurrentDecisionTrailer = "x-current-decision"

// jsonCodec lets clients call the service with content-subtype "json"
// without generated protobuf stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ── Messages ─────────────────────────────────────────────────────────────────

type InboxRequest struct {
	Bucket string `json:"bucket,omitempty"`
}

type InboxResponse struct {
	Items []*repository.ActionItem `json:"items"`
	Count int                      `json:"count"`
}

type CountsRequest struct{}

type ViewStructureRequest struct {
	EntityType  string `json:"entity_type"`
	RequestType string `json:"request_type,omitempty"`
	Stage       string `json:"stage"`
	EntityID    string `json:"entity_id,omitempty"`
}

type AssignmentRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type ViewRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// ApprovalServiceServer is the server API for the approval service.
type ApprovalServiceServer interface {
	Inbox(context.Context, *InboxRequest) (*InboxResponse, error)
	InboxCounts(context.Context, *CountsRequest) (*service.InboxCounts, error)
	GetViewStructure(context.Context, *ViewStructureRequest) (*layout.ViewStructure, error)
	CreateAssignment(context.Context, *service.CreateAssignmentRequest) (*repository.Assignment, error)
	SaveResponse(context.Context, *service.SaveResponseRequest) (*repository.Response, error)
	Submit(context.Context, *AssignmentRequest) (*repository.Assignment, error)
	CompleteReview(context.Context, *AssignmentRequest) (*repository.Assignment, error)
	Resubmit(context.Context, *AssignmentRequest) (*repository.Assignment, error)
	SetReview(context.Context, *service.SetReviewRequest) (*repository.QuestionReview, error)
	Forward(context.Context, *service.ForwardRequest) (*repository.ForwardRecord, error)
	Decide(context.Context, *service.DecideRequest) (*service.DecideResult, error)
	GetAssignment(context.Context, *AssignmentRequest) (*service.AssignmentDetail, error)
	Summary(context.Context, *AssignmentRequest) (*service.ReviewSummary, error)
	History(context.Context, *AssignmentRequest) (*service.AssignmentHistory, error)
	View(context.Context, *ViewRequest) (*service.ItemView, error)
}

func unary[Req, Resp any](name string, call func(ApprovalServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ApprovalServiceServer), ctx, req.(*Req))
			})
		},
	}
}

// ApprovalServiceDesc describes the service for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Inbox", ApprovalServiceServer.Inbox),
		unary("InboxCounts", ApprovalServiceServer.InboxCounts),
		unary("GetViewStructure", ApprovalServiceServer.GetViewStructure),
		unary("CreateAssignment", ApprovalServiceServer.CreateAssignment),
		unary("SaveResponse", ApprovalServiceServer.SaveResponse),
		unary("Submit", ApprovalServiceServer.Submit),
		unary("CompleteReview", ApprovalServiceServer.CompleteReview),
		unary("Resubmit", ApprovalServiceServer.Resubmit),
		unary("SetReview", ApprovalServiceServer.SetReview),
		unary("Forward", ApprovalServiceServer.Forward),
		unary("Decide", ApprovalServiceServer.Decide),
		unary("GetAssignment", ApprovalServiceServer.GetAssignment),
		unary("Summary", ApprovalServiceServer.Summary),
		unary("History", ApprovalServiceServer.History),
		unary("View", ApprovalServiceServer.View),
	},
	Metadata: "govworkflow/v1/approval.proto",
}

// RegisterApprovalServiceServer registers srv with s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

// ── Handler ──────────────────────────────────────────────────────────────────

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	svc Services
	log *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, log: log.Component("grpc")}
}

func (h *GRPCHandler) Inbox(ctx context.Context, req *InboxRequest) (*InboxResponse, error) {
	user, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(ctx, err)
	}
	var bucket workflow.ItemStatus
	if req.Bucket != "" {
		if bucket, err = workflow.ParseBucket(req.Bucket); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}
	items, err := h.svc.Index.Inbox(ctx, user.ID, user.TenantID, bucket)
	if err != nil {
		return nil, mapErrorToGRPC(ctx, err)
	}
	if items == nil {
		items = []*repository.ActionItem{}
	}
	return &InboxResponse{Items: items, Count: len(items)}, nil
}

func (h *GRPCHandler) InboxCounts(ctx context.Context, _ *CountsRequest) (*service.InboxCounts, error) {
	user, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(ctx, err)
	}
	counts, err := h.svc.Index.Counts(ctx, user.ID, user.TenantID)
	return counts, mapErrorToGRPC(ctx, err)
}

func (h *GRPCHandler) GetViewStructure(ctx context.Context, req *ViewStructureRequest) (*layout.ViewStructure, error) {
	user, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(ctx, err)
	}
	if req.EntityType == "" || req.Stage == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_type and stage are required")
	}
	view, err := h.svc.Layouts.GetViewStructure(ctx, layout.ViewRequest{
		TenantID:    user.TenantID,
		Role:        user.Role,
		EntityType:  req.EntityType,
		RequestType: req.RequestType,
		Stage:       workflow.Stage(req.Stage),
		EntityID:    req.EntityID,
	})
	return view, mapErrorToGRPC(ctx, err)
}

func (h *GRPCHandler) CreateAssignment(ctx context.Context, req *service.CreateAssignmentRequest) (*repository.Assignment, error) {
	return withUser(ctx, func(u auth.User) (*repository.Assignment, error) {
		return h.svc.Machine.Create(ctx, u, *req)
	})
}

func (h *GRPCHandler) SaveResponse(ctx context.Context, req *service.SaveResponseRequest) (*repository.Response, error) {
	return withUser(ctx, func(u auth.User) (*repository.Response, error) {
		return h.svc.Machine.SaveResponse(ctx, u, *req)
	})
}

func (h *GRPCHandler) Submit(ctx context.Context, req *AssignmentRequest) (*repository.Assignment, error) {
	return withUser(ctx, func(u auth.User) (*repository.Assignment, error) {
		return h.svc.Machine.Submit(ctx, u, req.AssignmentID)
	})
}

func (h *GRPCHandler) CompleteReview(ctx context.Context, req *AssignmentRequest) (*repository.Assignment, error) {
	return withUser(ctx, func(u auth.User) (*repository.Assignment, error) {
		return h.svc.Machine.CompleteReview(ctx, u, req.AssignmentID)
	})
}

func (h *GRPCHandler) Resubmit(ctx context.Context, req *AssignmentRequest) (*repository.Assignment, error) {
	return withUser(ctx, func(u auth.User) (*repository.Assignment, error) {
		return h.svc.Machine.Resubmit(ctx, u, req.AssignmentID)
	})
}

func (h *GRPCHandler) SetReview(ctx context.Context, req *service.SetReviewRequest) (*repository.QuestionReview, error) {
	return withUser(ctx, func(u auth.User) (*repository.QuestionReview, error) {
		return h.svc.Reviews.SetReview(ctx, u, *req)
	})
}

func (h *GRPCHandler) Forward(ctx context.Context, req *service.ForwardRequest) (*repository.ForwardRecord, error) {
	return withUser(ctx, func(u auth.User) (*repository.ForwardRecord, error) {
		return h.svc.Router.Forward(ctx, u, *req)
	})
}

func (h *GRPCHandler) Decide(ctx context.Context, req *service.DecideRequest) (*service.DecideResult, error) {
	return withUser(ctx, func(u auth.User) (*service.DecideResult, error) {
		if req.SourceType != "" {
			return h.svc.Adapters.Decide(ctx, u, *req)
		}
		return h.svc.Machine.Decide(ctx, u, *req)
	})
}

func (h *GRPCHandler) GetAssignment(ctx context.Context, req *AssignmentRequest) (*service.AssignmentDetail, error) {
	return withUser(ctx, func(u auth.User) (*service.AssignmentDetail, error) {
		return h.svc.Machine.Get(ctx, u, req.AssignmentID)
	})
}

func (h *GRPCHandler) Summary(ctx context.Context, req *AssignmentRequest) (*service.ReviewSummary, error) {
	return withUser(ctx, func(u auth.User) (*service.ReviewSummary, error) {
		return h.svc.Reviews.Summary(ctx, u.TenantID, req.AssignmentID)
	})
}

func (h *GRPCHandler) History(ctx context.Context, req *AssignmentRequest) (*service.AssignmentHistory, error) {
	return withUser(ctx, func(u auth.User) (*service.AssignmentHistory, error) {
		return h.svc.Machine.History(ctx, u, req.AssignmentID)
	})
}

func (h *GRPCHandler) View(ctx context.Context, req *ViewRequest) (*service.ItemView, error) {
	return withUser(ctx, func(u auth.User) (*service.ItemView, error) {
		return h.svc.Adapters.View(ctx, u, req.SourceType, req.SourceID)
	})
}

func withUser[T any](ctx context.Context, fn func(auth.User) (T, error)) (T, error) {
	var zero T
	user, err := auth.GetUserContext(ctx)
	if err != nil {
		return zero, mapErrorToGRPC(ctx, err)
	}
	out, err := fn(*user)
	if err != nil {
		return zero, mapErrorToGRPC(ctx, err)
	}
	return out, nil
}

// mapErrorToGRPC converts service errors to gRPC status errors
func mapErrorToGRPC(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var conflict *service.DecisionConflictError
	if errors.As(err, &conflict) && conflict.Current != nil {
		if raw, mErr := json.Marshal(conflict.Current); mErr == nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(CurrentDecisionTrailer, string(raw)))
		}
	}

	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeInvalidState:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// ── Interceptors ─────────────────────────────────────────────────────────────

// LoggingInterceptor writes one log line per unary call.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		evt := log.Info()
		switch code {
		case codes.OK:
		case codes.Internal, codes.Unknown:
			evt = log.Error().Err(err)
		default:
			evt = log.Warn().Str("error", status.Convert(err).Message())
		}
		evt.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// AuthInterceptor resolves the caller from the authorization metadata.
// Methods under any of the skip prefixes are served unauthenticated.
func AuthInterceptor(v *auth.Verifier, skip ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		for _, prefix := range skip {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if vals := md.Get("authorization"); len(vals) > 0 {
			token = auth.BearerToken(vals[0])
		}
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		user, err := v.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithUser(ctx, user), req)
	}
}
