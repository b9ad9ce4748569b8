// Package keyslot fornece adapters HTTP (net/http) para o escalonador de
// key slots: aquisição de slot em volta de chamadas a um upstream com rate
// limit por credencial, e endpoint de status para polling da fila.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (acquire com timeout, release garantido) sem net/http
//   - infra: implementações concretas (pool FIFO + rodízio + cooldown, stats,
//     token bucket do polling), detalhes de infraestrutura
//   - keyslot (este pacote): middlewares HTTP + wiring/extração de chave +
//     tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Request entra; o middleware enfileira um ticket e espera um slot
//  2. Com o slot em mãos, injeta X-Key-Slot e chama o próximo handler
//     (ex: reverse proxy para o serviço externo)
//  3. Na volta, libera o slot (inicia o cooldown da credencial)
//  4. Clientes esperando consultam /queue/status (com limite de polling)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como KEYSLOT_TOTAL, KEYSLOT_COOLDOWN e POLL_RPS.
package keyslot
