/*
Package resilience provides the circuit breakers that guard outbound
requests made by guest scripts.

# Overview

A Breaker tracks the outcome of calls to one upstream. After enough
consecutive failures it opens and rejects calls without running them; once
the cooldown passes it lets a limited number of probes through and closes
again if they succeed. A Group keeps one breaker per host for the most recently used hosts.

# Usage

	group := resilience.NewGroup(resilience.DefaultSettings(), 256)

	resp, err := resilience.Do(group.For(u.Host), func() (*resty.Response, error) {
		return req.Execute(method, u.String())
	})

# States

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[probes ok]-> Closed
	                                              |
	                                          [failure]
	                                              v
	                                            Open

A cancelled context is not a failure of the upstream and never trips a
breaker.
*/
package resilience
