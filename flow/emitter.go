// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flow

// Emitter 接收状态机产出的事件
//
// OnComplete/OnSSEUpdate 均在持有 FlowTable 内部锁的 goroutine 中同步调用
// 实现方应避免阻塞 如需异步处理请自行在实现内部做排队
type Emitter interface {
	// OnComplete 一次 HTTP 事务完整结束（或被 flush 强制结束）时调用
	OnComplete(tx *Transaction)

	// OnSSEUpdate 当 SSE 响应产生一个新的完整事件时调用
	//
	// tx 此时 Response 已经确定 但事务本身不会进入 OnComplete 除非被 flush
	OnSSEUpdate(tx *Transaction, event SSEEvent)
}

// EmitterFuncs 允许以函数字面量的形式实现 Emitter 省去定义空方法的样板代码
type EmitterFuncs struct {
	OnCompleteFunc  func(tx *Transaction)
	OnSSEUpdateFunc func(tx *Transaction, event SSEEvent)
}

func (f EmitterFuncs) OnComplete(tx *Transaction) {
	if f.OnCompleteFunc != nil {
		f.OnCompleteFunc(tx)
	}
}

func (f EmitterFuncs) OnSSEUpdate(tx *Transaction, event SSEEvent) {
	if f.OnSSEUpdateFunc != nil {
		f.OnSSEUpdateFunc(tx, event)
	}
}
