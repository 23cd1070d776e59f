// Package tests 是 approval-workflow 的内部测试模块。
//
// ⚠️ 重要提示：此包位于 internal/ 目录下，受 Go 编译器保护，
// 外部项目无法导入（会得到编译错误）。
//
// 📋 测试内容
//
// 此模块包含以下测试：
//   - workflow 包的端到端测试（创建、审批、驳回、回退、取消）
//   - sqlite 存储的集成测试
//   - 并发场景测试（同id串行化、不同id并行）
//   - 错误处理测试
//
// 🚀 运行测试
//
// 在项目根目录：
//
//	cd internal/tests
//	go test ./...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/approval-workflow/workflow ./...
//	go tool cover -html=coverage.out
package tests
