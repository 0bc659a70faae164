//go:build gomock || generate

package mocks

//go:generate sh -c "go run go.uber.org/mock/mockgen -typed -package mocks -destination transport.go github.com/qcore-go/qcore/internal/transport PacketWriter,PacketReader"
