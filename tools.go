//go:build tools

package tools

// Pins the protoc plugins used to regenerate protos/gen.
import (
	_ "google.golang.org/grpc/cmd/protoc-gen-go-grpc"
	_ "google.golang.org/protobuf/cmd/protoc-gen-go"
)
