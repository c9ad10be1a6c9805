// Package api is warden's demo HTTP API.
//
// It exists to exercise the guard chain end to end: every route other than
// registration and login is wrapped in middleware.RequireAction for the
// matching rbac action, so handlers only run for callers the chain has
// allowed and only ever see the identity, resource and quota reservation
// the chain produced.
//
// # Routes
//
//	POST   /auth/register                     public
//	POST   /auth/login                        public
//	GET    /me                                account.read
//	POST   /surveys                           survey.create (surveys quota)
//	GET    /surveys/{id}                      survey.read
//	PUT    /surveys/{id}                      survey.update
//	DELETE /surveys/{id}                      survey.delete (returns the survey slot)
//	POST   /surveys/{id}/publish              survey.publish
//	GET    /surveys/{id}/analytics            survey.analytics
//	PUT    /surveys/{id}/questions            survey.questions.set (questions per request)
//	POST   /surveys/{id}/responses            response.submit (anonymous, owner pays, rate limited)
//	POST   /boxes                             box.create
//	POST   /boxes/{id}/subscribe              box.subscribe (owner's subscribers quota)
//	POST   /courses                           course.create
//	PUT    /courses/{id}                      course.update
//	POST   /courses/{id}/enroll               course.enroll
//	POST   /uploads                           file.upload (storage by Content-Length)
//	POST   /team/members                      team.member.add (invite, live team_members seat count)
//	DELETE /team/members/{member_id}          team.member.remove (also withdraws an invitation)
//	POST   /team/invitations/{owner_id}/accept team.join (the invited member consents)
//	POST   /admin/identities/{id}/deactivate  admin.identity.deactivate
//	POST   /admin/identities/{id}/reactivate  admin.identity.deactivate
//	PUT    /admin/identities/{id}/plan        admin.identity.plan
//
// Survey content lives in process memory; ownership records, identities
// and usage counters live in whichever stores the server was built with.
package api
