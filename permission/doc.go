// Package permission implements role- and policy-based access control over
// colon-delimited permission ids such as "si:invoice:create".
//
// Grants are glob patterns where '*' crosses segment boundaries, so a role
// holding "si:*" covers every permission under the si scope. Policies layer
// on top of grants: a deny policy ends evaluation immediately, while
// conditions on allow policies bind extra requirements (role, tenant, time
// window, IP whitelist, resource ownership) to the grant. Resource ACLs add
// a final per-object level check with owner and public-read bypasses.
//
// Every decision is an ordinary Evaluation value with a stable reason code;
// denials are results, not errors. Decisions are cached with a TTL and the
// cache is purged whenever the catalog changes.
package permission
