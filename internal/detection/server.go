package detection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// DetectFunc serves one detect request
type DetectFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// RegisterDetectorServer mounts fn as the Detect method on s. Used by the
// mock inference service and by tests.
func RegisterDetectorServer(s *grpc.Server, fn DetectFunc) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return fn(ctx, in)
				}
				info := &grpc.UnaryServerInfo{FullMethod: DetectMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return fn(ctx, req.(*structpb.Struct))
				})
			},
		}},
		Streams:  []grpc.StreamDesc{},
		Metadata: "visiontrigger/detection/v1",
	}, struct{}{})
}

// EncodeRawOutput builds a detect response from per-class rows
func EncodeRawOutput(classes [][][]float32, inferenceMs float32) (*structpb.Struct, error) {
	list := make([]interface{}, len(classes))
	for i, rows := range classes {
		rl := make([]interface{}, len(rows))
		for j, row := range rows {
			vals := make([]interface{}, len(row))
			for k, v := range row {
				vals[k] = float64(v)
			}
			rl[j] = vals
		}
		list[i] = rl
	}
	return structpb.NewStruct(map[string]interface{}{
		"classes":      list,
		"inference_ms": float64(inferenceMs),
	})
}
