// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - Pool: o escalonador em memória (fila FIFO + rodízio + cooldown)
//   - MemoryStatsStore / RedisStatsStore: persistência de eventos de slot
//   - PollStore: token bucket por cliente usando golang.org/x/time/rate,
//     para proteger o endpoint de polling de status
package infra
