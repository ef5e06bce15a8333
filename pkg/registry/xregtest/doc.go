// Package xregtest 提供 xregistry.Backend 的一致性测试套件。
//
// 每个后端实现在自己的测试中调用 [Run]：
//
//	func TestConformance(t *testing.T) {
//	    xregtest.Run(t, func(t *testing.T) xregistry.Backend {
//	        return xregmem.New()
//	    })
//	}
//
// 套件通过 Registry 门面验证路径语义、订阅投递、会话状态与锁的公平性，
// 会话丢失通过 Backend.CloseSession 模拟。
package xregtest
